package models

import "time"

type Language string

const (
	LangJavaScript Language = "javascript"
	LangPython     Language = "python"
	LangJava       Language = "java"
	LangCPP        Language = "cpp"
)

// DefaultLanguage and DefaultCode seed a room created fresh.
const DefaultLanguage = LangJavaScript

const DefaultCode = "// Start coding here...\n"

type LanguageSpec struct {
	Name            Language `json:"name"`
	FileName        string   `json:"fileName"`
	CompileCmd      []string `json:"compileCmd,omitempty"`
	ExecCmd         []string `json:"execCmd"`
	DefaultTabSize  int      `json:"defaultTabSize"`
	ExampleTemplate string   `json:"exampleTemplate"`
}

/*** Room state ***/

// RoomClient is one live member of a room, unique by ConnectionID.
type RoomClient struct {
	ConnectionID string    `json:"connectionId" bson:"connectionId"`
	Username     string    `json:"username" bson:"username"`
	JoinedAt     time.Time `json:"joinedAt" bson:"joinedAt"`
}

type Message struct {
	ID        string    `json:"id" bson:"id"`
	Username  string    `json:"username" bson:"username"`
	Content   string    `json:"content" bson:"content"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// RoomRecord is the durable shape of a room. IsActive false marks a room as
// logically deleted without purging its history.
type RoomRecord struct {
	RoomID       string       `json:"roomId" bson:"roomId"`
	Clients      []RoomClient `json:"clients" bson:"clients"`
	Code         string       `json:"code" bson:"code"`
	Language     Language     `json:"language" bson:"language"`
	Messages     []Message    `json:"messages" bson:"messages"`
	CreatedAt    time.Time    `json:"createdAt" bson:"createdAt"`
	LastActivity time.Time    `json:"lastActivity" bson:"lastActivity"`
	IsActive     bool         `json:"isActive" bson:"isActive"`
}

// RoomSnapshot is the point-in-time read handed to a newly joined connection.
type RoomSnapshot struct {
	RoomID   string       `json:"roomId"`
	Code     string       `json:"code"`
	Language Language     `json:"language"`
	Clients  []RoomClient `json:"clients"`
	Messages []Message    `json:"messages"`
}

/*** Wire envelope and payloads ***/

type WSFrame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type JoinRequest struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

type LeaveRequest struct {
	RoomID string `json:"roomId"`
}

// RoomRef is the minimal payload for events that only name a room.
type RoomRef struct {
	RoomID string `json:"roomId"`
}

type CodeChange struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

type CodeSync struct {
	Code     string   `json:"code"`
	Language Language `json:"language"`
}

type ChatSend struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

type TypingNotice struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

type CompileRequest struct {
	RoomID   string   `json:"roomId"`
	Code     string   `json:"code"`
	Language Language `json:"language"`
}

type CompileResult struct {
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Membership accompanies "joined" and "disconnected" broadcasts.
type Membership struct {
	Username string       `json:"username"`
	Clients  []RoomClient `json:"clients"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type RunRequest struct {
	Language Language `json:"language"`
	Code     string   `json:"code"`
}

type RunResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Exit     int    `json:"exit"`
	TimedOut bool   `json:"timedOut"`
}
