package session

// Kind tells the front-end how to render a Message.
type Kind int

const (
	KindText Kind = iota
	KindHeader
	KindImage
	KindUser
)

func (k Kind) String() string {
	switch k {
	case KindHeader:
		return "header"
	case KindImage:
		return "image"
	case KindUser:
		return "user"
	default:
		return "text"
	}
}

// Message is one entry in the chat transcript. Header messages carry a Title,
// image messages carry a Path to the asset.
type Message struct {
	ID      string
	Author  string
	Kind    Kind
	Title   string
	Content string
	Path    string
}

// Presenter displays session output. Stream appends a token to the message with
// the given ID; Update replaces that message's content.
type Presenter interface {
	Send(msg Message)
	Stream(id, token string)
	Update(msg Message)
}
