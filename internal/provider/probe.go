package provider

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

// Status classifies the outcome of probing one provider account.
type Status string

const (
	StatusOK      Status = "ok"
	StatusExpired Status = "expired"
	StatusTimeout Status = "timeout"
	StatusError   Status = "error"
)

// Account is the subset of account info a probe needs.
type Account struct {
	Status         string // "Active", "Expired", "Banned", ...
	ExpiresAt      time.Time
	MaxConnections int
	ActiveCons     int
}

// AccountFunc fetches account info for p (e.g. an Xtream player_api auth call).
type AccountFunc func(ctx context.Context, p Provider) (*Account, error)

// Result is the outcome of probing one provider.
type Result struct {
	Provider  Provider
	Status    Status
	Account   *Account
	LatencyMs int64
	Err       error
}

// ProbeOne calls fetch for p and classifies the result.
func ProbeOne(ctx context.Context, p Provider, fetch AccountFunc) Result {
	start := time.Now()
	acct, err := fetch(ctx, p)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "timeout") {
			return Result{Provider: p, Status: StatusTimeout, LatencyMs: latency, Err: err}
		}
		return Result{Provider: p, Status: StatusError, LatencyMs: latency, Err: err}
	}
	if acct != nil && strings.EqualFold(acct.Status, "expired") {
		return Result{Provider: p, Status: StatusExpired, Account: acct, LatencyMs: latency}
	}
	return Result{Provider: p, Status: StatusOK, Account: acct, LatencyMs: latency}
}

// ProbeAll probes each provider and returns results sorted by: OK first (by latency), then non-OK by server.
func ProbeAll(ctx context.Context, providers []Provider, fetch AccountFunc) []Result {
	out := make([]Result, 0, len(providers))
	for _, p := range providers {
		out = append(out, ProbeOne(ctx, p, fetch))
	}
	sort.SliceStable(out, func(i, j int) bool {
		okI := out[i].Status == StatusOK
		okJ := out[j].Status == StatusOK
		if okI != okJ {
			return okI
		}
		if okI {
			return out[i].LatencyMs < out[j].LatencyMs
		}
		return out[i].Provider.Server < out[j].Provider.Server
	})
	return out
}
