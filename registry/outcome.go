package registry

import (
	"fmt"

	"medscan"
)

// Kind is the closed set of registry outcomes the coordinator branches on.
type Kind int

const (
	KindFound Kind = iota
	KindNotFound
	KindToolError
	KindNoSignal
	KindInvalidSignal
)

func (k Kind) String() string {
	switch k {
	case KindFound:
		return "FOUND"
	case KindNotFound:
		return "NOT_FOUND"
	case KindToolError:
		return "TOOL_ERROR"
	case KindNoSignal:
		return "NO_SIGNAL"
	case KindInvalidSignal:
		return "INVALID_SIGNAL"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Strategy names the lookup step that produced a match.
type Strategy string

const (
	StrategyRegNumber         Strategy = "registration_number"
	StrategyNameAndIngredient Strategy = "name_and_ingredient"
	StrategyName              Strategy = "name"
	StrategyBaseName          Strategy = "base_name"
	StrategyIngredientSplit   Strategy = "ingredient_split"
	StrategyFuzzy             Strategy = "fuzzy"
)

// Outcome is either a verified record or one of the sentinel kinds with a message.
type Outcome struct {
	Kind     Kind
	Record   *medscan.RegistryRecord
	Strategy Strategy
	Message  string
}

// Found reports whether the outcome carries a verified record.
func (o Outcome) Found() bool {
	return o.Kind == KindFound && o.Record != nil
}

func Found(rec *medscan.RegistryRecord, strategy Strategy) Outcome {
	return Outcome{Kind: KindFound, Record: rec, Strategy: strategy}
}

func NotFound(message string) Outcome {
	return Outcome{Kind: KindNotFound, Message: message}
}

func ToolError(message string) Outcome {
	return Outcome{Kind: KindToolError, Message: message}
}

func NoSignal(message string) Outcome {
	return Outcome{Kind: KindNoSignal, Message: message}
}

func InvalidSignal(message string) Outcome {
	return Outcome{Kind: KindInvalidSignal, Message: message}
}
