package estimator

import (
	"math"
	"math/rand"
	"testing"
	"time"

	registry "beacon-guard/internal/registry/domain"
)

var triangle = []Anchor{
	{ID: 1, Position: registry.Position{X: 0, Y: 0}},
	{ID: 2, Position: registry.Position{X: 10, Y: 0}},
	{ID: 3, Position: registry.Position{X: 0, Y: 10}},
}

var venue = []Anchor{
	{ID: 1, Position: registry.Position{X: 0, Y: 0}},
	{ID: 2, Position: registry.Position{X: 7, Y: 0}},
	{ID: 3, Position: registry.Position{X: 0, Y: 10}},
	{ID: 4, Position: registry.Position{X: 7, Y: 10}},
}

func samples(now time.Time, rssi ...float64) []Sample {
	out := make([]Sample, 0, len(rssi))
	for i, v := range rssi {
		out = append(out, Sample{AnchorID: i + 1, RSSI: v, ObservedAt: now})
	}
	return out
}

func TestWeightedCentroidStaysInsideAnchorHull(t *testing.T) {
	est, err := NewWeightedCentroid(triangle, 20, 3)
	if err != nil {
		t.Fatalf("new centroid: %v", err)
	}
	rng := rand.New(rand.NewSource(7))
	now := time.Now()
	for i := 0; i < 500; i++ {
		s := samples(now, -30-rng.Float64()*70, -30-rng.Float64()*70, -30-rng.Float64()*70)
		p, ok := est.Estimate("aa", s)
		if !ok {
			t.Fatalf("expected estimate for %+v", s)
		}
		// inside x>=0, y>=0, x+y<=10
		const eps = 1e-9
		if p.X < -eps || p.Y < -eps || p.X+p.Y > 10+eps {
			t.Fatalf("estimate %+v outside anchor hull for %+v", p, s)
		}
	}
}

func TestWeightedCentroidEqualWeights(t *testing.T) {
	est, _ := NewWeightedCentroid(venue, 20, 4)
	p, ok := est.Estimate("aa", samples(time.Now(), -60, -60, -60, -60))
	if !ok {
		t.Fatalf("expected estimate")
	}
	if math.Abs(p.X-3.5) > 1e-9 || math.Abs(p.Y-5) > 1e-9 {
		t.Fatalf("expected venue center, got %+v", p)
	}
}

func TestWeightedCentroidStrongerSignalPullsCloser(t *testing.T) {
	est, _ := NewWeightedCentroid(venue, 20, 4)
	p, _ := est.Estimate("aa", samples(time.Now(), -40, -80, -80, -80))
	if p.X >= 3.5 || p.Y >= 5 {
		t.Fatalf("expected estimate pulled toward anchor 1, got %+v", p)
	}
}

func TestWeightedCentroidNoEstimate(t *testing.T) {
	est, _ := NewWeightedCentroid(venue, 20, 3)
	now := time.Now()
	if _, ok := est.Estimate("aa", samples(now, -50, -50)); ok {
		t.Fatalf("expected no estimate below min anchors")
	}
	unknown := []Sample{{AnchorID: 1, RSSI: -50}, {AnchorID: 2, RSSI: -50}, {AnchorID: 9, RSSI: -50}}
	if _, ok := est.Estimate("aa", unknown); ok {
		t.Fatalf("expected unknown anchors to be ignored")
	}
	if _, ok := est.Estimate("aa", samples(now, math.NaN(), -50, -50)); ok {
		t.Fatalf("expected NaN rssi to be dropped")
	}
	// 10^(-10000/20) underflows to zero
	if _, ok := est.Estimate("aa", samples(now, -10000, -10000, -10000)); ok {
		t.Fatalf("expected no estimate when total weight is zero")
	}
}

func TestNewWeightedCentroidValidation(t *testing.T) {
	if _, err := NewWeightedCentroid(nil, 20, 3); err == nil {
		t.Fatalf("expected error for no anchors")
	}
	if _, err := NewWeightedCentroid(venue, 0, 3); err == nil {
		t.Fatalf("expected error for zero k")
	}
	if _, err := NewWeightedCentroid(venue, 20, 0); err == nil {
		t.Fatalf("expected error for zero min anchors")
	}
	dup := append([]Anchor{}, venue...)
	dup = append(dup, Anchor{ID: 1})
	if _, err := NewWeightedCentroid(dup, 20, 3); err == nil {
		t.Fatalf("expected error for duplicate anchor")
	}
}

func TestSmootherConvergesUnderConstantInput(t *testing.T) {
	s, err := NewSmoother(0.1)
	if err != nil {
		t.Fatalf("new smoother: %v", err)
	}
	first := s.Update(registry.Position{X: 0, Y: 0})
	if first != (registry.Position{}) {
		t.Fatalf("expected first update to initialize, got %+v", first)
	}
	target := registry.Position{X: 4, Y: -2}
	var got registry.Position
	steps := 0
	for ; steps < 200; steps++ {
		got = s.Update(target)
		if registry.Distance(got, target) < 1e-3 {
			break
		}
	}
	// (0.9)^n * |target| < 1e-3 needs n = 81
	if steps >= 200 {
		t.Fatalf("expected convergence, last %+v", got)
	}
	if steps > 90 {
		t.Fatalf("expected convergence within 90 steps, took %d", steps)
	}
}

func TestSmootherAlphaOnePassesThrough(t *testing.T) {
	s, _ := NewSmoother(1)
	s.Update(registry.Position{X: 1, Y: 1})
	got := s.Update(registry.Position{X: 5, Y: 6})
	if got != (registry.Position{X: 5, Y: 6}) {
		t.Fatalf("expected pass-through, got %+v", got)
	}
	s.Reset()
	if _, ok := s.Value(); ok {
		t.Fatalf("expected reset smoother to be empty")
	}
	if _, err := NewSmoother(0); err == nil {
		t.Fatalf("expected error for alpha 0")
	}
	if _, err := NewSmoother(1.5); err == nil {
		t.Fatalf("expected error for alpha > 1")
	}
}

func TestBoundsApply(t *testing.T) {
	b := BoundsOf(venue, BoundsClamp)
	if b.MaxX != 7 || b.MaxY != 10 || b.MinX != 0 || b.MinY != 0 {
		t.Fatalf("unexpected bounds %+v", b)
	}
	p, ok := b.Apply(registry.Position{X: 9, Y: -1})
	if !ok || p != (registry.Position{X: 7, Y: 0}) {
		t.Fatalf("expected clamp to (7,0), got %+v ok=%v", p, ok)
	}
	b.Mode = BoundsReject
	if _, ok := b.Apply(registry.Position{X: 9, Y: 1}); ok {
		t.Fatalf("expected reject outside bounds")
	}
	if p, ok := b.Apply(registry.Position{X: 1, Y: 1}); !ok || p.X != 1 {
		t.Fatalf("expected inside point unchanged")
	}
	if err := (Bounds{MinX: 5, MaxX: 1}).Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestPathLossRoundTrip(t *testing.T) {
	model := PathLoss{TxPower: -59, Exponent: 2.2}
	for _, d := range []float64{0.5, 1, 3.3, 8} {
		got := model.Distance(model.RSSI(d))
		if math.Abs(got-d) > 1e-9 {
			t.Fatalf("expected %v, got %v", d, got)
		}
	}
	if got := model.Distance(-59); math.Abs(got-1) > 1e-12 {
		t.Fatalf("expected 1m at tx power, got %v", got)
	}
}

func TestKalmanConverges(t *testing.T) {
	k := NewKalman(KalmanParams{})
	if got := k.Update(-70); got != -70 {
		t.Fatalf("expected first update to initialize, got %v", got)
	}
	for i := 0; i < 200; i++ {
		k.Update(-60)
	}
	if math.Abs(k.Value()+60) > 0.5 {
		t.Fatalf("expected filter near -60, got %v", k.Value())
	}
	// a single outlier moves the estimate only slightly
	before := k.Value()
	k.Update(-90)
	if math.Abs(k.Value()-before) > 5 {
		t.Fatalf("expected damped response, moved from %v to %v", before, k.Value())
	}
}

func TestMultilaterationRecoversPosition(t *testing.T) {
	model := PathLoss{TxPower: -59, Exponent: 2}
	bounds := BoundsOf(venue, BoundsClamp)
	m, err := NewMultilateration(venue, 3, model, KalmanParams{}, &bounds)
	if err != nil {
		t.Fatalf("new multilateration: %v", err)
	}
	truth := registry.Position{X: 2.5, Y: 6}
	now := time.Now()
	var s []Sample
	for _, a := range venue {
		s = append(s, Sample{AnchorID: a.ID, RSSI: model.RSSI(registry.Distance(truth, a.Position)), ObservedAt: now})
	}
	p, ok := m.Estimate("aa", s)
	if !ok {
		t.Fatalf("expected estimate")
	}
	if registry.Distance(p, truth) > 0.01 {
		t.Fatalf("expected %+v, got %+v", truth, p)
	}

	// re-offering the same samples must not feed the filters twice
	before := m.filters["aa"][1].kalman.p
	m.Estimate("aa", s)
	if m.filters["aa"][1].kalman.p != before {
		t.Fatalf("expected filter untouched by repeated sample")
	}

	m.Forget("aa")
	if _, ok := m.filters["aa"]; ok {
		t.Fatalf("expected filters dropped after forget")
	}
}

func TestMultilaterationNeedsEnoughAnchors(t *testing.T) {
	m, err := NewMultilateration(venue, 3, DefaultPathLoss, DefaultKalman, nil)
	if err != nil {
		t.Fatalf("new multilateration: %v", err)
	}
	if _, ok := m.Estimate("aa", samples(time.Now(), -60, -60)); ok {
		t.Fatalf("expected no estimate with two anchors")
	}
	if _, err := NewMultilateration(venue, 2, DefaultPathLoss, DefaultKalman, nil); err == nil {
		t.Fatalf("expected error for min anchors below 3")
	}
}

func TestNewSelectsStrategy(t *testing.T) {
	e, err := New(Config{Kind: KindCentroid, Anchors: venue, MinAnchors: 3, WeightDivisor: 20})
	if err != nil {
		t.Fatalf("centroid: %v", err)
	}
	if _, ok := e.(*WeightedCentroid); !ok {
		t.Fatalf("expected centroid, got %T", e)
	}
	e, err = New(Config{Kind: KindMultilateration, Anchors: venue, MinAnchors: 3})
	if err != nil {
		t.Fatalf("multilateration: %v", err)
	}
	if _, ok := e.(*Multilateration); !ok {
		t.Fatalf("expected multilateration, got %T", e)
	}
	if _, err := New(Config{Kind: "magic", Anchors: venue}); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}
