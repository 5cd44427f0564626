// Package oracletest provides deterministic interpreters and response
// builders for tests that exercise the validation pipeline without a model.
package oracletest

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/JonMunkholm/addrintel/internal/oracle"
)

// Response is an oracle response in wire form. Zero values are encoded as
// null, so a test only sets what it needs.
type Response struct {
	NormalizedAddress string
	StreetNumber      any
	StreetName        string
	Suburb            string
	City              string
	Province          string
	PostalCode        string
	Latitude          *float64
	Longitude         *float64
	ZoneID            string
	Completeness      string
	Score             int
	Band              string
	Issues            []string
	Fixes             []string
}

// JSON renders the response using the oracle wire keys.
func (r Response) JSON() []byte {
	fields := map[string]any{
		"streetNumber": r.StreetNumber,
		"streetName":   nullable(r.StreetName),
		"suburb":       nullable(r.Suburb),
		"city":         nullable(r.City),
		"province":     nullable(r.Province),
		"postalCode":   nullable(r.PostalCode),
		"latitude":     r.Latitude,
		"longitude":    r.Longitude,
		"zoneId":       nullable(r.ZoneID),
	}
	completeness := r.Completeness
	if completeness == "" {
		completeness = "Incomplete"
	}
	band := r.Band
	if band == "" {
		band = "Unusable"
	}
	body := map[string]any{
		"normalizedAddress": r.NormalizedAddress,
		"fields":            fields,
		"completeness":      completeness,
		"confidence":        map[string]any{"score": r.Score, "band": band},
		"issues":            nonNil(r.Issues),
		"recommendedFixes":  nonNil(r.Fixes),
	}
	data, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}
	return data
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Float returns a pointer to f.
func Float(f float64) *float64 {
	return &f
}

// Scripted answers each request by looking up the address. Addresses
// without an entry get Fallback, or an error when Fallback is nil.
type Scripted struct {
	Fallback func(ctx context.Context, req oracle.Request) ([]byte, error)

	mu      sync.Mutex
	answers map[string]func(ctx context.Context, req oracle.Request) ([]byte, error)
	calls   atomic.Int64
}

// NewScripted creates an empty Scripted interpreter.
func NewScripted() *Scripted {
	return &Scripted{answers: make(map[string]func(context.Context, oracle.Request) ([]byte, error))}
}

// On registers a fixed response for an address.
func (s *Scripted) On(addr string, resp Response) *Scripted {
	body := resp.JSON()
	return s.OnFunc(addr, func(context.Context, oracle.Request) ([]byte, error) {
		return body, nil
	})
}

// OnRaw registers a raw body for an address.
func (s *Scripted) OnRaw(addr string, body string) *Scripted {
	return s.OnFunc(addr, func(context.Context, oracle.Request) ([]byte, error) {
		return []byte(body), nil
	})
}

// OnFunc registers a function for an address.
func (s *Scripted) OnFunc(addr string, fn func(ctx context.Context, req oracle.Request) ([]byte, error)) *Scripted {
	s.mu.Lock()
	s.answers[strings.TrimSpace(addr)] = fn
	s.mu.Unlock()
	return s
}

// Interpret implements oracle.Interpreter.
func (s *Scripted) Interpret(ctx context.Context, req oracle.Request) ([]byte, error) {
	s.calls.Add(1)

	s.mu.Lock()
	fn, ok := s.answers[req.Address]
	s.mu.Unlock()

	if !ok {
		fn = s.Fallback
	}
	if fn == nil {
		return nil, errUnscripted(req.Address)
	}
	return fn(ctx, req)
}

// Calls returns the number of Interpret calls so far.
func (s *Scripted) Calls() int {
	return int(s.calls.Load())
}

// Model implements oracle.Named.
func (s *Scripted) Model() string {
	return "scripted"
}

// Hang blocks until the request context is done, simulating a call that
// never returns in time.
func Hang(ctx context.Context, _ oracle.Request) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type errUnscripted string

func (e errUnscripted) Error() string {
	return "no scripted response for " + string(e)
}
