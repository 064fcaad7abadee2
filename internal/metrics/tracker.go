package metrics

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"cyclegan-forge/internal/tensor"
)

// Kind is an image-quality metric.
type Kind int

const (
	SSIM Kind = iota + 1
	PSNR
	FID
)

var kindNames = map[Kind]string{SSIM: "ssim", PSNR: "psnr", FID: "fid"}

// ParseKind resolves a metric name case-insensitively.
func ParseKind(name string) (Kind, error) {
	lower := strings.ToLower(strings.TrimSpace(name))
	for k, n := range kindNames {
		if n == lower {
			return k, nil
		}
	}
	names := make([]string, 0, len(kindNames))
	for _, n := range kindNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return 0, fmt.Errorf("unknown metric %q (want one of %v)", name, names)
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Domain is one of the two image domains.
type Domain int

const (
	DomainA Domain = iota
	DomainB
)

func (d Domain) String() string {
	if d == DomainB {
		return "B"
	}
	return "A"
}

// Name returns the log name of a metric for a domain, e.g. "ssim_A".
func Name(k Kind, d Domain) string { return k.String() + "_" + d.String() }

// ErrNotTracked is returned by Update for a kind the tracker was not
// built with.
var ErrNotTracked = errors.New("metrics: kind not tracked")

type accumulator interface {
	update(pred, ref *tensor.Tensor)
	value() float64
	reset()
}

type trackerKey struct {
	kind   Kind
	domain Domain
}

// Tracker owns one accumulator per (kind, domain). Running values cover
// every update since the last ResetAll, so ResetAll must be called at each
// epoch boundary.
type Tracker struct {
	kinds []Kind
	acc   map[trackerKey]accumulator
}

// NewTracker builds accumulators for kinds in both domains.
func NewTracker(kinds []Kind) (*Tracker, error) {
	t := &Tracker{acc: make(map[trackerKey]accumulator)}
	for _, k := range kinds {
		for _, d := range []Domain{DomainA, DomainB} {
			key := trackerKey{k, d}
			if _, dup := t.acc[key]; dup {
				continue
			}
			a, err := newAccumulator(k)
			if err != nil {
				return nil, err
			}
			t.acc[key] = a
		}
		if !containsKind(t.kinds, k) {
			t.kinds = append(t.kinds, k)
		}
	}
	return t, nil
}

func newAccumulator(k Kind) (accumulator, error) {
	switch k {
	case SSIM:
		return &ssimAcc{}, nil
	case PSNR:
		return &psnrAcc{}, nil
	case FID:
		return &fidAcc{}, nil
	default:
		return nil, fmt.Errorf("metrics: unsupported kind %s", k)
	}
}

// Kinds returns the tracked kinds in configuration order.
func (t *Tracker) Kinds() []Kind { return append([]Kind(nil), t.kinds...) }

// Update feeds a batch of predictions and references ([N, 3, H, W] in
// [-1, 1]) and returns the running value.
func (t *Tracker) Update(kind Kind, domain Domain, prediction, reference *tensor.Tensor) (float64, error) {
	a, ok := t.acc[trackerKey{kind, domain}]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotTracked, Name(kind, domain))
	}
	if !tensor.SameShape(prediction, reference) || len(prediction.Shape) != 4 {
		return 0, fmt.Errorf("metrics: %s shape mismatch %v vs %v", Name(kind, domain), prediction.Shape, reference.Shape)
	}
	a.update(To255(prediction), To255(reference))
	return a.value(), nil
}

// UpdateDomain updates every tracked kind for one domain and returns the
// running values keyed by Name.
func (t *Tracker) UpdateDomain(domain Domain, prediction, reference *tensor.Tensor) (map[string]float64, error) {
	out := make(map[string]float64, len(t.kinds))
	for _, k := range t.kinds {
		v, err := t.Update(k, domain, prediction, reference)
		if err != nil {
			return nil, err
		}
		out[Name(k, domain)] = v
	}
	return out, nil
}

// ResetAll clears every accumulator.
func (t *Tracker) ResetAll() {
	for _, a := range t.acc {
		a.reset()
	}
}

// To255 maps [-1, 1] to [0, 255], clamping out-of-range values.
func To255(x *tensor.Tensor) *tensor.Tensor {
	out := tensor.New(x.Shape...)
	for i, v := range x.Data {
		s := (v + 1) * 127.5
		switch {
		case s < 0:
			s = 0
		case s > 255:
			s = 255
		}
		out.Data[i] = s
	}
	return out
}

func containsKind(ks []Kind, k Kind) bool {
	for _, x := range ks {
		if x == k {
			return true
		}
	}
	return false
}
