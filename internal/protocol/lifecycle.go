package protocol

import (
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	shiperrors "shipment/internal/errors"
)

// SignalKind tags a lifecycle signal.
type SignalKind int

const (
	SignalStart SignalKind = iota + 1
	SignalSuccess
	SignalError
	// SignalEnd is emitted by the tracker when the stream closes; the parser
	// never produces it.
	SignalEnd
)

func (k SignalKind) String() string {
	switch k {
	case SignalStart:
		return "start"
	case SignalSuccess:
		return "success"
	case SignalError:
		return "error"
	case SignalEnd:
		return "end"
	default:
		return fmt.Sprintf("signal(%d)", int(k))
	}
}

// Terminal reports whether k closes the lifecycle (success or error).
func (k SignalKind) Terminal() bool {
	return k == SignalSuccess || k == SignalError
}

// Signal is one lifecycle event.
//
// Start carries the raw remainder of the line in Payload. Error carries a
// *errors.RemoteError, or a *errors.ProtocolDecodeError when the payload
// could not be decoded. End carries the transport error, if any.
type Signal struct {
	Kind    SignalKind
	Payload string
	Err     error
}

// ParserOptions configures a Parser.
type ParserOptions struct {
	// VerifyKey switches the prefix to "SHIPMENT-<key>: ".
	VerifyKey string
	// RepairPayloads retries undecodable error payloads through jsonrepair
	// before reporting a decode error.
	RepairPayloads bool
}

// Parser recognizes lifecycle lines. It is stateless and safe for
// concurrent use.
type Parser struct {
	prefix string
	repair bool
}

// NewParser creates a lifecycle parser.
func NewParser(opts ParserOptions) *Parser {
	return &Parser{
		prefix: Prefix(opts.VerifyKey),
		repair: opts.RepairPayloads,
	}
}

// ParseLifecycle parses line with the default prefix.
func ParseLifecycle(line string) (Signal, bool) {
	return defaultParser.Parse(line)
}

var defaultParser = NewParser(ParserOptions{})

// lifecycleMatchers run in order; the exact "ok" match precedes the
// prefix patterns.
var lifecycleMatchers = []func(p *Parser, rest string) (Signal, bool){
	matchSuccess,
	matchStart,
	matchError,
}

// Parse classifies a sentinel-prefixed line. The boolean is false when the
// line matches no known lifecycle form; such lines carry no signal.
func (p *Parser) Parse(line string) (Signal, bool) {
	rest, ok := strings.CutPrefix(line, p.prefix)
	if !ok {
		return Signal{}, false
	}
	for _, match := range lifecycleMatchers {
		if sig, ok := match(p, rest); ok {
			return sig, true
		}
	}
	return Signal{}, false
}

func matchSuccess(_ *Parser, rest string) (Signal, bool) {
	if rest != "ok" {
		return Signal{}, false
	}
	return Signal{Kind: SignalSuccess}, true
}

func matchStart(_ *Parser, rest string) (Signal, bool) {
	payload, ok := strings.CutPrefix(rest, "start: ")
	if !ok {
		return Signal{}, false
	}
	return Signal{Kind: SignalStart, Payload: payload}, true
}

func matchError(p *Parser, rest string) (Signal, bool) {
	payload, ok := strings.CutPrefix(rest, "error: ")
	if !ok {
		return Signal{}, false
	}
	return Signal{Kind: SignalError, Payload: payload, Err: p.decodeError(payload)}, true
}

func (p *Parser) decodeError(payload string) error {
	remote, err := shiperrors.DecodeRemoteError([]byte(payload))
	if err == nil {
		return remote
	}
	if !p.repair {
		return err
	}
	repaired, repairErr := jsonrepair.JSONRepair(payload)
	if repairErr != nil {
		return err
	}
	if remote, repairedErr := shiperrors.DecodeRemoteError([]byte(repaired)); repairedErr == nil {
		return remote
	}
	return err
}
