package protocol

import "encoding/json"

// MessageType enumerates the response kinds the core can send.
type MessageType uint8

const (
	TypeError MessageType = iota + 1
	TypeOk
	TypeConsole
	TypeConsoleHelp
	TypeRawData
	TypePretty
	TypeXML
	TypeJSON
	TypeCount
	TypeName
	TypeNameList
	TypeUserData
	TypeStructuredData
	TypeUnknownRequest
	TypeUnknownResponse
)

// Wire codes selecting the body parser.
const (
	CodeError          = "Q"
	CodeOk             = "O"
	CodeConsole        = "C"
	CodeConsoleHelp    = "H"
	CodeRawData        = "R"
	CodePretty         = "P"
	CodeXML            = "X"
	CodeJSON           = "J"
	CodeCount          = "I"
	CodeName           = "N"
	CodeNameList       = "M"
	CodeUserData       = "U"
	CodeStructuredData = "S"
	CodeUnknownRequest = "Z"
	CodeVersion        = "V"
)

var typeNames = map[MessageType]string{
	TypeError:           "Error",
	TypeOk:              "Ok",
	TypeConsole:         "Console",
	TypeConsoleHelp:     "ConsoleHelp",
	TypeRawData:         "RawData",
	TypePretty:          "Pretty",
	TypeXML:             "Xml",
	TypeJSON:            "Json",
	TypeCount:           "Count",
	TypeName:            "Name",
	TypeNameList:        "NameList",
	TypeUserData:        "UserData",
	TypeStructuredData:  "StructuredData",
	TypeUnknownRequest:  "UnknownRequest",
	TypeUnknownResponse: "UnknownResponse",
}

func (t MessageType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "Invalid"
}

// Response is one decoded message from the core. The concrete type is one of
// the *XxxResponse variants below.
type Response interface {
	RequestID() string
	Type() MessageType
	Code() string
	isResponse()
}

// Envelope carries the fields every response shares.
type Envelope struct {
	ID string
}

func (e Envelope) RequestID() string { return e.ID }
func (Envelope) isResponse()         {}

type ErrorResponse struct {
	Envelope
	ErrCode string
	Message string
}

func (*ErrorResponse) Type() MessageType { return TypeError }
func (*ErrorResponse) Code() string      { return CodeError }

type OkResponse struct {
	Envelope
}

func (*OkResponse) Type() MessageType { return TypeOk }
func (*OkResponse) Code() string      { return CodeOk }

type ConsoleResponse struct {
	Envelope
	Output string
}

func (*ConsoleResponse) Type() MessageType { return TypeConsole }
func (*ConsoleResponse) Code() string      { return CodeConsole }

type ConsoleHelpResponse struct {
	Envelope
	Args string
	Help string
}

func (*ConsoleHelpResponse) Type() MessageType { return TypeConsoleHelp }
func (*ConsoleHelpResponse) Code() string      { return CodeConsoleHelp }

type RawDataResponse struct {
	Envelope
	Data []byte
}

func (*RawDataResponse) Type() MessageType { return TypeRawData }
func (*RawDataResponse) Code() string      { return CodeRawData }

type PrettyResponse struct {
	Envelope
	Text string
}

func (*PrettyResponse) Type() MessageType { return TypePretty }
func (*PrettyResponse) Code() string      { return CodePretty }

type XMLResponse struct {
	Envelope
	XML string
}

func (*XMLResponse) Type() MessageType { return TypeXML }
func (*XMLResponse) Code() string      { return CodeXML }

type JSONResponse struct {
	Envelope
	Data json.RawMessage
}

func (*JSONResponse) Type() MessageType { return TypeJSON }
func (*JSONResponse) Code() string      { return CodeJSON }

// Decode unmarshals the JSON payload into v.
func (r *JSONResponse) Decode(v any) error {
	if err := json.Unmarshal(r.Data, v); err != nil {
		return malformed("invalid json payload: %v", err)
	}
	return nil
}

type CountResponse struct {
	Envelope
	Count int
}

func (*CountResponse) Type() MessageType { return TypeCount }
func (*CountResponse) Code() string      { return CodeCount }

type NameResponse struct {
	Envelope
	Name string
}

func (*NameResponse) Type() MessageType { return TypeName }
func (*NameResponse) Code() string      { return CodeName }

type NameListResponse struct {
	Envelope
	Names []string
}

func (*NameListResponse) Type() MessageType { return TypeNameList }
func (*NameListResponse) Code() string      { return CodeNameList }

type UserDataResponse struct {
	Envelope
	Data []byte
}

func (*UserDataResponse) Type() MessageType { return TypeUserData }
func (*UserDataResponse) Code() string      { return CodeUserData }

// StructuredDataResponse keeps the body undecoded; no body grammar is
// defined for it yet.
type StructuredDataResponse struct {
	Envelope
	Raw []byte
}

func (*StructuredDataResponse) Type() MessageType { return TypeStructuredData }
func (*StructuredDataResponse) Code() string      { return CodeStructuredData }

type UnknownRequestResponse struct {
	Envelope
	RequestCode string
}

func (*UnknownRequestResponse) Type() MessageType { return TypeUnknownRequest }
func (*UnknownRequestResponse) Code() string      { return CodeUnknownRequest }

// UnknownResponse is a message whose code this client does not know.
// Raw holds the skipped body bytes as they appeared on the wire.
type UnknownResponse struct {
	Envelope
	ResponseCode string
	Raw          []byte
}

func (*UnknownResponse) Type() MessageType { return TypeUnknownResponse }
func (r *UnknownResponse) Code() string    { return r.ResponseCode }
