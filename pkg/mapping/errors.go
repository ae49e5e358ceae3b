package mapping

import "fmt"

// AmbiguousMappingError reports that more than one base content item matched
// a translated block. The engine never guesses between candidates; an
// operator has to resolve the collision by hand.
type AmbiguousMappingError struct {
	BlockID    string
	DataType   string
	Candidates int
}

func (e *AmbiguousMappingError) Error() string {
	return fmt.Sprintf("ambiguous mapping for block %s (%s): %d candidate source items",
		e.BlockID, e.DataType, e.Candidates)
}
