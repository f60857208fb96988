package types

import "fmt"

// DIMSE Command types
const (
	CStoreRQ  = 0x0001
	CStoreRSP = 0x8001
	CGetRQ    = 0x0010
	CGetRSP   = 0x8010
	CFindRQ   = 0x0020
	CFindRSP  = 0x8020
	CMoveRQ   = 0x0021
	CMoveRSP  = 0x8021
	CEchoRQ   = 0x0030
	CEchoRSP  = 0x8030
	CCancelRQ = 0x0FFF
)

// DIMSE Status codes
const (
	StatusSuccess         = 0x0000
	StatusPending         = 0xFF00
	StatusFailure         = 0xC000
	StatusOutOfResources  = 0xA700
	StatusSOPClassNotSupp = 0x0122
)

// Command Data Set Type values
const (
	DataSetPresent   = 0x0000
	NoDataSetPresent = 0x0101
	PriorityMedium   = 0x0000
	PriorityHigh     = 0x0001
	PriorityLow      = 0x0002
)

const commandResponseBit = 0x8000

// Message represents a parsed DIMSE command
type Message struct {
	CommandField              uint16
	MessageID                 uint16
	AffectedSOPClassUID       string
	AffectedSOPInstanceUID    string
	RequestedSOPClassUID      string
	Priority                  uint16
	CommandDataSetType        uint16
	Status                    uint16
	MessageIDBeingRespondedTo uint16
	MoveDestination           string
	ErrorComment              string
}

// HasDataSet reports whether a data set follows this command.
func (m *Message) HasDataSet() bool {
	return m.CommandDataSetType != NoDataSetPresent
}

// IsResponse reports whether the command field has the response bit set.
func (m *Message) IsResponse() bool {
	return m.CommandField&commandResponseBit != 0
}

// Request is one fully reassembled DIMSE message as handed to a handler.
// Command and DataSet hold the raw reassembled buffers.
type Request struct {
	ContextID      byte
	AbstractSyntax string
	TransferSyntax string
	Message        *Message
	Command        []byte
	DataSet        []byte
}

// MessageID returns the message id of the underlying command.
func (r *Request) MessageID() uint16 {
	if r.Message == nil {
		return 0
	}
	return r.Message.MessageID
}

// OutcomeKind tells the dispatch loop what to do after a handler returns.
type OutcomeKind int

const (
	// Continue waits for the next command.
	Continue OutcomeKind = iota
	// CompleteSuccess ends the association with an orderly release.
	CompleteSuccess
	// Fail ends the association with an abort.
	Fail
)

func (k OutcomeKind) String() string {
	switch k {
	case Continue:
		return "continue"
	case CompleteSuccess:
		return "complete"
	case Fail:
		return "fail"
	default:
		return "unknown"
	}
}

// Outcome is the result of handling one command.
type Outcome struct {
	Kind   OutcomeKind
	Reason error
}

// ContinueOutcome keeps the dispatch loop running.
func ContinueOutcome() Outcome {
	return Outcome{Kind: Continue}
}

// CompleteOutcome releases the association after the current command.
func CompleteOutcome() Outcome {
	return Outcome{Kind: CompleteSuccess}
}

// FailOutcome aborts the association with the given reason.
func FailOutcome(reason error) Outcome {
	return Outcome{Kind: Fail, Reason: reason}
}

// ResponseCommandFor maps a DIMSE request command to its corresponding response command.
func ResponseCommandFor(request uint16) uint16 {
	switch request {
	case CStoreRQ:
		return CStoreRSP
	case CGetRQ:
		return CGetRSP
	case CFindRQ:
		return CFindRSP
	case CMoveRQ:
		return CMoveRSP
	case CEchoRQ:
		return CEchoRSP
	default:
		return request | commandResponseBit
	}
}

// CommandName returns the conventional name of a command field, e.g. "C-ECHO-RQ".
func CommandName(field uint16) string {
	switch field {
	case CStoreRQ:
		return "C-STORE-RQ"
	case CStoreRSP:
		return "C-STORE-RSP"
	case CGetRQ:
		return "C-GET-RQ"
	case CGetRSP:
		return "C-GET-RSP"
	case CFindRQ:
		return "C-FIND-RQ"
	case CFindRSP:
		return "C-FIND-RSP"
	case CMoveRQ:
		return "C-MOVE-RQ"
	case CMoveRSP:
		return "C-MOVE-RSP"
	case CEchoRQ:
		return "C-ECHO-RQ"
	case CEchoRSP:
		return "C-ECHO-RSP"
	case CCancelRQ:
		return "C-CANCEL-RQ"
	default:
		return fmt.Sprintf("0x%04X", field)
	}
}
