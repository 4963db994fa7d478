package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// errorClass groups provider failures by how the client reacts to them.
type errorClass int

const (
	classPermanent errorClass = iota
	classTransient
	classRateLimited
	classTooManyResults
	classCanceled
)

func (c errorClass) String() string {
	switch c {
	case classTransient:
		return "transient"
	case classRateLimited:
		return "rate_limited"
	case classTooManyResults:
		return "too_many_results"
	case classCanceled:
		return "canceled"
	default:
		return "permanent"
	}
}

func (c errorClass) retryable() bool {
	return c == classTransient || c == classRateLimited
}

var (
	rateLimitMarkers = []string{"429", "too many requests", "rate limit", "exceeded the quota"}

	transientMarkers = []string{
		"timeout", "deadline exceeded",
		"502", "503", "504", "bad gateway", "service unavailable", "gateway timeout",
		"connection reset", "connection refused", "broken pipe", "unexpected eof",
		"connection pool", "no available connection",
		"header not found", // load balanced nodes lagging behind each other
	}

	// Providers word the eth_getLogs result cap differently.
	tooManyResultsMarkers = []string{
		"query returned more than",
		"log response size exceeded",
		"block range is too large",
		"exceed maximum block range",
		"block range too large",
	}

	suggestedRangeRe = regexp.MustCompile(`\[(0x[0-9a-fA-F]+),\s*(0x[0-9a-fA-F]+)\]`)
)

// classify decides whether err is worth retrying and labels it for metrics.
func classify(err error) errorClass {
	if err == nil {
		return classPermanent
	}
	if errors.Is(err, context.Canceled) {
		return classCanceled
	}

	text := errorText(err)
	if containsAny(text, tooManyResultsMarkers) {
		return classTooManyResults
	}
	if containsAny(text, rateLimitMarkers) {
		return classRateLimited
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode >= 500 {
		return classTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return classTransient
	}

	if containsAny(text, transientMarkers) {
		return classTransient
	}
	return classPermanent
}

// BlockRange is an inclusive range of block numbers.
type BlockRange struct {
	From uint64
	To   uint64
}

func (r BlockRange) String() string {
	return fmt.Sprintf("[%d, %d]", r.From, r.To)
}

// TooManyResults reports whether the provider refused an eth_getLogs query because the
// range holds too many logs. hint is the narrower range the provider proposed, nil if none.
func TooManyResults(err error) (hint *BlockRange, ok bool) {
	if classify(err) != classTooManyResults {
		return nil, false
	}

	m := suggestedRangeRe.FindStringSubmatch(errorText(err))
	if m == nil {
		return nil, true
	}
	from, errFrom := hexutil.DecodeUint64(m[1])
	to, errTo := hexutil.DecodeUint64(m[2])
	if errFrom != nil || errTo != nil || to < from {
		return nil, true
	}
	return &BlockRange{From: from, To: to}, true
}

// errorText is the lower-cased message of err plus the data of a JSON-RPC error, where
// providers put the details of a refused query.
func errorText(err error) string {
	text := err.Error()

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
		text += " " + fmt.Sprint(dataErr.ErrorData())
	}
	return strings.ToLower(text)
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
