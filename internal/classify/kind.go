package classify

import "github.com/agentic-research/logreduce/api"

// Kind is the destination family of a match.
type Kind int

const (
	KindIP Kind = iota
	KindKeyword
)

func (k Kind) String() string {
	switch k {
	case KindIP:
		return "ip"
	case KindKeyword:
		return "keyword"
	default:
		return "unknown"
	}
}

// Dir is the per-key output directory for the kind.
func (k Kind) Dir() string {
	if k == KindIP {
		return api.IPDir
	}
	return api.KeywordDir
}

// GlobalFile is the aggregate output file for the kind.
func (k Kind) GlobalFile() string {
	if k == KindIP {
		return api.IPGlobalFile
	}
	return api.KeywordGlobalFile
}

// Event is one classification result for a line. Key is the matched address
// for IP events and the keyword pattern text for keyword events.
type Event struct {
	Kind Kind
	Key  string
}
