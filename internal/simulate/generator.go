// Package simulate produces a synthetic transaction feed: ordinary payments
// plus the two fraud patterns the engine is built to catch.
package simulate

import (
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/kavach/internal/txn"
)

// Scenario labels the pattern a batch was drawn from.
type Scenario string

const (
	ScenarioNormal   Scenario = "normal"
	ScenarioMule     Scenario = "mule"
	ScenarioCircular Scenario = "circular"
)

// Shapes of the fraud batches.
const (
	MuleBurstSize   = 10
	MuleBurstSpread = 2 * time.Minute
	MuleAmount      = 49999.0
)

// City is a centre transactions are scattered around.
type City struct {
	Name     string
	Lat, Lng float64
	RadiusKM float64
}

// Cities are the metros the built-in ATM registry covers.
var Cities = []City{
	{Name: "Delhi", Lat: 28.6139, Lng: 77.2090, RadiusKM: 40},
	{Name: "Mumbai", Lat: 19.0760, Lng: 72.8777, RadiusKM: 35},
	{Name: "Bengaluru", Lat: 12.9716, Lng: 77.5946, RadiusKM: 30},
	{Name: "Chennai", Lat: 13.0827, Lng: 80.2707, RadiusKM: 30},
	{Name: "Kolkata", Lat: 22.5726, Lng: 88.3639, RadiusKM: 30},
	{Name: "Lucknow", Lat: 26.8467, Lng: 80.9462, RadiusKM: 20},
	{Name: "Indore", Lat: 22.7196, Lng: 75.8577, RadiusKM: 15},
}

var merchants = []string{
	"grocery", "fuel", "electronics", "restaurant", "travel",
	"pharmacy", "utilities", "jewellery", "p2p_transfer", "online_retail",
}

const kmPerDegree = 111.0

// Options tunes a Generator. Zero probabilities disable that pattern.
type Options struct {
	MuleProbability     float64
	CircularProbability float64
	Customers           int // size of the recurring sender pool
	Seed                uint64
	Clock               func() time.Time
}

// Generator draws transaction batches. It is not safe for concurrent use.
type Generator struct {
	opts      Options
	rng       *rand.Rand
	customers []string
}

func NewGenerator(opts Options) *Generator {
	if opts.Customers <= 0 {
		opts.Customers = 200
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	seed := opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	g := &Generator{
		opts: opts,
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	g.customers = make([]string, opts.Customers)
	for i := range g.customers {
		g.customers[i] = "cust-" + g.id()[:8]
	}
	return g
}

// Next returns the next batch, in timestamp order.
func (g *Generator) Next() (Scenario, []txn.Transaction) {
	roll := g.rng.Float64()
	switch {
	case roll < g.opts.MuleProbability:
		return ScenarioMule, g.Mule()
	case roll < g.opts.MuleProbability+g.opts.CircularProbability:
		return ScenarioCircular, g.Circular()
	default:
		return ScenarioNormal, []txn.Transaction{g.Normal()}
	}
}

// Normal is one ordinary payment from a recurring customer.
func (g *Generator) Normal() txn.Transaction {
	city := g.city()
	lat, lng := g.scatter(city)
	return txn.Transaction{
		ID:         g.id(),
		SenderID:   g.customers[g.rng.IntN(len(g.customers))],
		ReceiverID: "merchant-" + g.id()[:8],
		Amount:     round2(50 + g.rng.Float64()*4950),
		Timestamp:  g.opts.Clock().UTC(),
		Lat:        lat,
		Lng:        lng,
		DeviceID:   g.id(),
		City:       city.Name,
		Merchant:   merchants[g.rng.IntN(len(merchants))],
	}
}

// Mule is a fan-in burst: MuleBurstSize distinct senders pay one receiver
// within MuleBurstSpread, all from one device and location.
func (g *Generator) Mule() []txn.Transaction {
	city := g.city()
	lat, lng := g.scatter(city)
	receiver := "mule-" + g.id()[:8]
	device := g.id()
	base := g.opts.Clock().UTC().Add(-MuleBurstSpread)

	out := make([]txn.Transaction, MuleBurstSize)
	for i := range out {
		out[i] = txn.Transaction{
			ID:         g.id(),
			SenderID:   "victim-" + g.id()[:8],
			ReceiverID: receiver,
			Amount:     MuleAmount,
			Timestamp:  base.Add(time.Duration(g.rng.Int64N(int64(MuleBurstSpread)))),
			Lat:        lat,
			Lng:        lng,
			DeviceID:   device,
			City:       city.Name,
			Merchant:   "p2p_transfer",
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Circular is a three-hop ring A→B→C→A moving one large amount over about
// two hours.
func (g *Generator) Circular() []txn.Transaction {
	city := g.city()
	lat, lng := g.scatter(city)
	a, b, c := "ring-"+g.id()[:8], "ring-"+g.id()[:8], "ring-"+g.id()[:8]
	amount := round2(100000 + g.rng.Float64()*400000)
	start := g.opts.Clock().UTC().Add(-2 * time.Hour)

	hops := []struct {
		from, to string
		after    time.Duration
	}{
		{a, b, 0},
		{b, c, time.Duration(10+g.rng.IntN(51)) * time.Minute},
		{c, a, time.Duration(70+g.rng.IntN(51)) * time.Minute},
	}
	out := make([]txn.Transaction, len(hops))
	for i, h := range hops {
		out[i] = txn.Transaction{
			ID:         g.id(),
			SenderID:   h.from,
			ReceiverID: h.to,
			Amount:     amount,
			Timestamp:  start.Add(h.after),
			Lat:        lat + g.rng.NormFloat64()*0.01,
			Lng:        lng + g.rng.NormFloat64()*0.01,
			DeviceID:   g.id(),
			City:       city.Name,
			Merchant:   "p2p_transfer",
		}
	}
	return out
}

func (g *Generator) city() City { return Cities[g.rng.IntN(len(Cities))] }

// scatter places a point around the city centre with a Gaussian offset whose
// sigma is a third of the city radius.
func (g *Generator) scatter(c City) (lat, lng float64) {
	sigma := c.RadiusKM / 3
	dLat := g.rng.NormFloat64() * sigma / kmPerDegree
	dLng := g.rng.NormFloat64() * sigma / (kmPerDegree * math.Cos(c.Lat*math.Pi/180))
	return c.Lat + dLat, c.Lng + dLng
}

// id draws a UUID from the generator's own source so seeded runs repeat.
func (g *Generator) id() string {
	var b [16]byte
	for i := 0; i < 16; i += 8 {
		v := g.rng.Uint64()
		for j := 0; j < 8; j++ {
			b[i+j] = byte(v >> (8 * j))
		}
	}
	u, _ := uuid.FromBytes(b[:])
	u[6] = (u[6] & 0x0f) | 0x40 // version 4
	u[8] = (u[8] & 0x3f) | 0x80 // RFC 4122 variant
	return u.String()
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
