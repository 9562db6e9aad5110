// internal/command/command.go
package command

// Name is the tag that identifies a command variant. The set of names is closed.
type Name string

const (
	NameOpenWebBrowser Name = "open_web_browser"
	NameClickAt        Name = "click_at"
	NameHoverAt        Name = "hover_at"
	NameTypeTextAt     Name = "type_text_at"
	NameScrollDocument Name = "scroll_document"
	NameWait5Seconds   Name = "wait_5_seconds"
	NameGoBack         Name = "go_back"
	NameGoForward      Name = "go_forward"
	NameSearch         Name = "search"
	NameNavigate       Name = "navigate"
	NameKeyCombination Name = "key_combination"
	NameScreenshot     Name = "screenshot"
	NameShutdown       Name = "shutdown"
)

// Names lists every known command tag in declaration order.
var Names = []Name{
	NameOpenWebBrowser,
	NameClickAt,
	NameHoverAt,
	NameTypeTextAt,
	NameScrollDocument,
	NameWait5Seconds,
	NameGoBack,
	NameGoForward,
	NameSearch,
	NameNavigate,
	NameKeyCombination,
	NameScreenshot,
	NameShutdown,
}

// Valid reports whether n is one of the known command tags.
func (n Name) Valid() bool {
	for _, known := range Names {
		if n == known {
			return true
		}
	}
	return false
}

// Direction is the argument of scroll_document. It is not restricted at parse time.
type Direction string

const (
	DirectionUp    Direction = "up"
	DirectionDown  Direction = "down"
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
)

// Command is one abstract action. The concrete type is fully determined by Name().
type Command interface {
	Name() Name
}

// OpenWebBrowser opens the default page.
type OpenWebBrowser struct{}

// ClickAt clicks at a pixel coordinate.
type ClickAt struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// HoverAt moves the pointer to a pixel coordinate.
type HoverAt struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// TypeTextAt focuses a coordinate, types Text and presses Enter.
type TypeTextAt struct {
	X    int    `json:"x"`
	Y    int    `json:"y"`
	Text string `json:"text"`
}

// ScrollDocument scrolls the document in a direction.
type ScrollDocument struct {
	Direction Direction `json:"direction"`
}

// Wait5Seconds pauses for five seconds.
type Wait5Seconds struct{}

// GoBack navigates back in history.
type GoBack struct{}

// GoForward navigates forward in history.
type GoForward struct{}

// Search opens the default search page.
type Search struct{}

// Navigate loads URL.
type Navigate struct {
	URL string `json:"url"`
}

// KeyCombination presses a "+"-joined chord such as "Control+Shift+c".
type KeyCombination struct {
	Keys string `json:"keys"`
}

// Screenshot requests a screenshot without any other action.
type Screenshot struct{}

// Shutdown asks the worker to terminate.
type Shutdown struct{}

func (OpenWebBrowser) Name() Name { return NameOpenWebBrowser }
func (ClickAt) Name() Name        { return NameClickAt }
func (HoverAt) Name() Name        { return NameHoverAt }
func (TypeTextAt) Name() Name     { return NameTypeTextAt }
func (ScrollDocument) Name() Name { return NameScrollDocument }
func (Wait5Seconds) Name() Name   { return NameWait5Seconds }
func (GoBack) Name() Name         { return NameGoBack }
func (GoForward) Name() Name      { return NameGoForward }
func (Search) Name() Name         { return NameSearch }
func (Navigate) Name() Name       { return NameNavigate }
func (KeyCombination) Name() Name { return NameKeyCombination }
func (Screenshot) Name() Name     { return NameScreenshot }
func (Shutdown) Name() Name       { return NameShutdown }
