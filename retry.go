package beatflow

import (
	"math/rand"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Backoff selects how the wait between attempts grows.
type Backoff string

const (
	// BackoffFixed waits the base delay before every retry.
	BackoffFixed Backoff = "fixed"
	// BackoffLinear waits delay × attempt before retry number attempt+1.
	BackoffLinear Backoff = "linear"
	// BackoffExponential waits delay × 2^(attempt−1).
	BackoffExponential Backoff = "exponential"
)

// Safety caps applied when a policy is normalized.
const (
	maxAttemptsLimit = 100
	maxDelayLimit    = time.Hour
)

// RetryPolicy is a pure value object answering "should this attempt be
// retried, and how long do I wait". Kind filters operate on semantic error
// kinds: GiveUpOn always shadows RetryOn, and an empty RetryOn matches every
// kind. When is an optional expr predicate evaluated with the error summary
// bound to `error`; when present it must also hold for a retry to happen.
type RetryPolicy struct {
	MaxAttempts    int           `yaml:"max_attempts" json:"max_attempts"`
	Delay          time.Duration `yaml:"delay" json:"delay"`
	Backoff        Backoff       `yaml:"backoff" json:"backoff"`
	MaxDelay       time.Duration `yaml:"max_delay" json:"max_delay"`
	JitterFraction float64       `yaml:"jitter" json:"jitter"`
	RetryOn        []ErrorKind   `yaml:"retry_on" json:"retry_on"`
	GiveUpOn       []ErrorKind   `yaml:"give_up_on" json:"give_up_on"`
	When           string        `yaml:"when" json:"when"`

	// Sampler supplies the uniform [0,1) sample used for jitter. It exists as
	// an injectable collaborator so tests stay deterministic; nil falls back
	// to the package PRNG.
	Sampler func() float64 `yaml:"-" json:"-"`

	whenProgram *vm.Program
}

// NoRetry is the single-attempt policy beats start with.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1, Backoff: BackoffFixed}
}

// normalized applies defaults and the safety caps. Called once when the
// policy is attached to a beat.
func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.MaxAttempts > maxAttemptsLimit {
		p.MaxAttempts = maxAttemptsLimit
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	if p.Backoff == "" {
		p.Backoff = BackoffFixed
	}
	if p.MaxDelay < 0 {
		p.MaxDelay = 0
	}
	if p.MaxDelay > maxDelayLimit {
		p.MaxDelay = maxDelayLimit
	}
	if p.JitterFraction < 0 {
		p.JitterFraction = 0
	}
	if p.JitterFraction > 1 {
		p.JitterFraction = 1
	}
	if p.When != "" && p.whenProgram == nil {
		program, err := expr.Compile(p.When)
		if err != nil {
			contractViolation("retry predicate %q does not compile: %v", p.When, err)
		}
		p.whenProgram = program
	}
	return p
}

// ShouldRetry reports whether the attempt that just failed with err should be
// retried. attempt is 1-based.
func (p RetryPolicy) ShouldRetry(attempt int, err error) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	kind := Classify(err)
	for _, k := range p.GiveUpOn {
		if k == kind {
			return false
		}
	}
	if len(p.RetryOn) > 0 {
		matched := false
		for _, k := range p.RetryOn {
			if k == kind {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if p.whenProgram != nil {
		fe := asFlowError(err)
		out, evalErr := expr.Run(p.whenProgram, map[string]any{
			"error": map[string]any{
				"kind":    string(fe.Kind),
				"message": fe.Message,
				"step":    fe.Step,
				"fields":  fe.Fields,
			},
		})
		ok, isBool := out.(bool)
		if evalErr != nil || !isBool || !ok {
			return false
		}
	}
	return true
}

// NextDelay computes the wait before attempt+1 for the given 1-based attempt,
// applying the backoff curve, the delay caps and jitter.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	base := p.Delay
	switch p.Backoff {
	case BackoffLinear:
		base = p.Delay * time.Duration(attempt)
	case BackoffExponential:
		if attempt-1 >= 32 || p.Delay > maxDelayLimit>>(attempt-1) {
			base = maxDelayLimit
		} else {
			base = p.Delay << (attempt - 1)
		}
	}
	if p.MaxDelay > 0 && base > p.MaxDelay {
		base = p.MaxDelay
	}
	if base > maxDelayLimit {
		base = maxDelayLimit
	}
	if p.JitterFraction > 0 && base > 0 {
		sample := p.Sampler
		if sample == nil {
			sample = rand.Float64
		}
		j := p.JitterFraction
		low := float64(base) * (1 - j)
		span := float64(base) * 2 * j
		base = time.Duration(low + sample()*span)
	}
	if base < 0 {
		base = 0
	}
	return base
}
