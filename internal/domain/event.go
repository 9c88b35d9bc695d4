package domain

// Trailer column names appended after the decoded event arguments.
var EventTrailerColumns = []string{
	"event_name",
	"log_index",
	"tx_index",
	"tx_hash",
	"contract_address",
	"block_hash",
	"block_number",
}

// EventArg is one decoded event argument rendered as text.
type EventArg struct {
	Name  string
	Value string
}

// EventRecord is a raw decoded log entry as cached by the ledger.
type EventRecord struct {
	Args        []EventArg
	EventName   string
	LogIndex    uint
	TxIndex     uint
	TxHash      string
	Address     string
	BlockHash   string
	BlockNumber uint64
}

// Arg returns the value of the named argument.
func (r EventRecord) Arg(name string) (string, bool) {
	for _, a := range r.Args {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// ArgNames returns argument names in declared order.
func (r EventRecord) ArgNames() []string {
	names := make([]string, len(r.Args))
	for i, a := range r.Args {
		names[i] = a.Name
	}
	return names
}
