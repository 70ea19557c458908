package beats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/beatflow/beatflow"
)

// Package-level validator for beat configs.
var validate = validator.New()

// HTTPCall describes one outgoing request.
type HTTPCall struct {
	URL     string            `yaml:"url" validate:"required,url"`
	Method  string            `yaml:"method" default:"GET" validate:"required,oneof=GET POST PUT PATCH DELETE HEAD OPTIONS"`
	Headers map[string]string `yaml:"headers"`
	Body    map[string]any    `yaml:"body"`
}

// HTTPConfig configures an HTTP beat with declarative defaults and
// validation tags.
type HTTPConfig struct {
	Call      HTTPCall      `yaml:"call"`
	ResultKey string        `yaml:"result_key" default:"response"`
	Timeout   time.Duration `yaml:"timeout" default:"30s" validate:"gte=1s"`
	// Undo, when set, is issued as the beat's compensating request.
	Undo *HTTPCall `yaml:"undo"`
}

// HTTPRequest builds an asynchronous beat that performs an HTTP request and
// stores {status_code, body} under cfg.ResultKey in the payload. Responses
// with status >= 400 fail the beat but still record the result, so retry
// policies can branch on the status code. When cfg.Undo is set it becomes
// the beat's compensator.
func HTTPRequest(name string, cfg HTTPConfig) (*beatflow.Beat[Data], error) {
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("http beat %q: failed to apply defaults: %w", name, err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("http beat %q: config validation failed: %w", name, err)
	}

	client := resty.New().SetTimeout(cfg.Timeout)

	b := beatflow.NewAsyncBeat(name, func(ctx context.Context, ec *beatflow.Context[Data]) error {
		result, err := doCall(ctx, client, cfg.Call)
		if ec.Data == nil {
			ec.Data = Data{}
		}
		if result != nil {
			ec.Data[cfg.ResultKey] = result
		}
		return err
	}).WithDescription(fmt.Sprintf("%s %s, result stored at %q.", cfg.Call.Method, cfg.Call.URL, cfg.ResultKey))

	if cfg.Undo != nil {
		undo := *cfg.Undo
		if undo.Method == "" {
			undo.Method = "POST"
		}
		b.WithAsyncUndo(func(ctx context.Context, ec *beatflow.Context[Data]) error {
			_, err := doCall(ctx, client, undo)
			return err
		})
	}
	return b, nil
}

func doCall(ctx context.Context, client *resty.Client, call HTTPCall) (map[string]any, error) {
	req := client.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", uuid.NewString())
	if len(call.Headers) > 0 {
		req.SetHeaders(call.Headers)
	}
	if call.Body != nil {
		req.SetBody(call.Body)
	}

	resp, err := req.Execute(call.Method, call.URL)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}

	var body any
	if raw := resp.Body(); len(raw) > 0 {
		if jsonErr := json.Unmarshal(raw, &body); jsonErr != nil {
			body = string(raw)
		}
	}
	result := map[string]any{
		"status_code": resp.StatusCode(),
		"body":        body,
	}
	if resp.IsError() {
		return result, beatflow.Errorf(beatflow.ErrKindUser, "HTTP %d from %s", resp.StatusCode(), call.URL).
			WithField("status_code", resp.StatusCode())
	}
	return result, nil
}
