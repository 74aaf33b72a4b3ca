package llm

import "context"

// FakeClassifier is a test double for Classifier: it returns a fixed
// response (or error) and records every call it received.
type FakeClassifier struct {
	Response string
	Err      error
	Calls    []FakeCall
}

type FakeCall struct {
	SystemPrompt string
	UserPrompt   string
}

func (f *FakeClassifier) Classify(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.Calls = append(f.Calls, FakeCall{SystemPrompt: systemPrompt, UserPrompt: userPrompt})
	if f.Err != nil {
		return "", f.Err
	}
	return f.Response, nil
}
