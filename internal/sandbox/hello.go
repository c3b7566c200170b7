package sandbox

import (
	"encoding/json"
	"fmt"
)

// DefaultGreeting is what get_greeting returns before anything was stored.
const DefaultGreeting = "Hello"

const greetingKey = "greeting"

// HelloContract is the hello-near contract: one stored greeting.
type HelloContract struct{}

func (HelloContract) View(state State, method string, args []byte) ([]byte, error) {
	switch method {
	case "get_greeting":
		greeting, err := loadGreeting(state)
		if err != nil {
			return nil, err
		}
		return json.Marshal(greeting)
	default:
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, method)
	}
}

func (HelloContract) Call(state State, env Env, method string, args []byte) ([]byte, error) {
	switch method {
	case "set_greeting":
		var input struct {
			Greeting *string `json:"greeting"`
		}
		if err := json.Unmarshal(args, &input); err != nil {
			return nil, fmt.Errorf("set_greeting: decode args: %w", err)
		}
		if input.Greeting == nil {
			return nil, fmt.Errorf("set_greeting: missing field greeting")
		}
		env.Log("Saving greeting " + *input.Greeting)
		raw, err := json.Marshal(*input.Greeting)
		if err != nil {
			return nil, err
		}
		return nil, state.Set(greetingKey, raw)
	case "get_greeting":
		greeting, err := loadGreeting(state)
		if err != nil {
			return nil, err
		}
		return json.Marshal(greeting)
	default:
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, method)
	}
}

func loadGreeting(state State) (string, error) {
	raw, ok, err := state.Get(greetingKey)
	if err != nil {
		return "", err
	}
	if !ok {
		return DefaultGreeting, nil
	}
	var greeting string
	if err := json.Unmarshal(raw, &greeting); err != nil {
		return "", fmt.Errorf("decode stored greeting: %w", err)
	}
	return greeting, nil
}
