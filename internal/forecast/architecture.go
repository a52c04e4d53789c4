package forecast

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	ErrArchitectureMismatch = errors.New("architecture mismatch")
	ErrInvalidArchitecture  = errors.New("invalid architecture")
	ErrWindowLength         = errors.New("window length mismatch")
	ErrNoForwardPass        = errors.New("backward called without a training forward pass")
)

// Pooling names a temporal pooling variant.
type Pooling string

const (
	PoolingAttention     Pooling = "attention"
	PoolingSelfAttention Pooling = "self_attention"
)

// ParsePooling accepts "attention" or "self_attention" (case-insensitive).
func ParsePooling(s string) (Pooling, error) {
	switch p := Pooling(strings.ToLower(strings.TrimSpace(s))); p {
	case PoolingAttention, PoolingSelfAttention:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown pooling %q", ErrInvalidArchitecture, s)
	}
}

// Architecture fixes every shape of a Model. Two models can exchange
// parameters only when their architectures are equal.
type Architecture struct {
	WindowLength    int     `json:"window_length"`
	Channels        []int   `json:"channels"`
	KernelSize      int     `json:"kernel_size"`
	ConvDropout     float64 `json:"conv_dropout"`
	Pooling         Pooling `json:"pooling"`
	AttentionHidden int     `json:"attention_hidden"`
	Heads           int     `json:"heads"`
	Hidden          []int   `json:"hidden"`
	HeadDropout     float64 `json:"head_dropout"`
	// ImageFeatures is the number of per-timestep image channels fed to the
	// first convolution next to the flow. Zero means flow only.
	ImageFeatures int `json:"image_features,omitempty"`
}

// InputChannels is the channel count of one model input window.
func (a Architecture) InputChannels() int { return 1 + a.ImageFeatures }

// InputSize is the number of values in one model input: WindowLength flow
// values followed by WindowLength values per image channel.
func (a Architecture) InputSize() int { return a.InputChannels() * a.WindowLength }

// DefaultArchitecture is three conv blocks (64, 128, 256 filters, kernel 3),
// additive attention and a 512/128 dense head.
func DefaultArchitecture(windowLength int) Architecture {
	return Architecture{
		WindowLength:    windowLength,
		Channels:        []int{64, 128, 256},
		KernelSize:      3,
		ConvDropout:     0.2,
		Pooling:         PoolingAttention,
		AttentionHidden: 64,
		Heads:           4,
		Hidden:          []int{512, 128},
		HeadDropout:     0.5,
	}
}

func (a Architecture) Validate() error {
	switch {
	case a.WindowLength < 1:
		return fmt.Errorf("%w: window length %d", ErrInvalidArchitecture, a.WindowLength)
	case len(a.Channels) == 0:
		return fmt.Errorf("%w: no conv blocks", ErrInvalidArchitecture)
	case a.KernelSize < 1 || a.KernelSize%2 == 0:
		return fmt.Errorf("%w: kernel size %d must be odd and positive", ErrInvalidArchitecture, a.KernelSize)
	case a.ConvDropout < 0 || a.ConvDropout >= 1 || a.HeadDropout < 0 || a.HeadDropout >= 1:
		return fmt.Errorf("%w: dropout rates must be in [0, 1)", ErrInvalidArchitecture)
	case a.ImageFeatures < 0:
		return fmt.Errorf("%w: image features %d", ErrInvalidArchitecture, a.ImageFeatures)
	}
	for _, c := range append(slices.Clone(a.Channels), a.Hidden...) {
		if c < 1 {
			return fmt.Errorf("%w: layer width %d", ErrInvalidArchitecture, c)
		}
	}
	last := a.Channels[len(a.Channels)-1]
	switch a.Pooling {
	case PoolingAttention:
		if a.AttentionHidden < 1 {
			return fmt.Errorf("%w: attention hidden size %d", ErrInvalidArchitecture, a.AttentionHidden)
		}
	case PoolingSelfAttention:
		if a.Heads < 1 || last%a.Heads != 0 {
			return fmt.Errorf("%w: %d channels not divisible by %d heads", ErrInvalidArchitecture, last, a.Heads)
		}
	default:
		return fmt.Errorf("%w: unknown pooling %q", ErrInvalidArchitecture, a.Pooling)
	}
	return nil
}

// Equal reports whether a and b produce identically shaped models.
func (a Architecture) Equal(b Architecture) bool {
	return a.WindowLength == b.WindowLength &&
		slices.Equal(a.Channels, b.Channels) &&
		a.KernelSize == b.KernelSize &&
		a.ConvDropout == b.ConvDropout &&
		a.Pooling == b.Pooling &&
		a.AttentionHidden == b.AttentionHidden &&
		a.Heads == b.Heads &&
		slices.Equal(a.Hidden, b.Hidden) &&
		a.HeadDropout == b.HeadDropout &&
		a.ImageFeatures == b.ImageFeatures
}

// CheckCompatible returns ErrArchitectureMismatch describing the first
// difference between want and got.
func CheckCompatible(want, got Architecture) error {
	if want.WindowLength != got.WindowLength {
		return fmt.Errorf("%w: window length %d, checkpoint has %d", ErrArchitectureMismatch, want.WindowLength, got.WindowLength)
	}
	if !want.Equal(got) {
		return fmt.Errorf("%w: %+v, checkpoint has %+v", ErrArchitectureMismatch, want, got)
	}
	return nil
}
