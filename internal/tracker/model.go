package tracker

import "time"

// Wire types mirror the tracker's JSON. Only fields the client maps are
// declared.

type rawAuthor struct {
	ID           int64             `json:"id,omitempty"`
	Key          string            `json:"key,omitempty"`
	AccountID    string            `json:"accountId,omitempty"`
	Username     string            `json:"username,omitempty"`
	Email        string            `json:"email,omitempty"`
	DisplayName  string            `json:"displayName,omitempty"`
	Active       bool              `json:"active,omitempty"`
	TimeZone     string            `json:"timeZone,omitempty"`
	AvatarURLs   map[string]string `json:"avatarUrls,omitempty"`
	ProfilePic   string            `json:"profilePicture,omitempty"`
	Color        string            `json:"color,omitempty"`
	Initials     string            `json:"initials,omitempty"`
}

type rawComment struct {
	ID      string     `json:"id"`
	Author  *rawAuthor `json:"author"`
	Body    string     `json:"body"`
	Created string     `json:"created"`
	Updated string     `json:"update"`
}

type rawChangelog struct {
	Histories []struct {
		Author  *rawAuthor `json:"author"`
		Created string     `json:"created"`
		Items   []struct {
			Field      string `json:"field"`
			FromString string `json:"fromString"`
			ToString   string `json:"toString"`
		} `json:"items"`
	} `json:"histories"`
}

type rawFields struct {
	Summary      string       `json:"summary"`
	Description  *string      `json:"description"`
	Components   []Component  `json:"components"`
	Attachment   []Attachment `json:"attachment"`
	TimeEstimate int64        `json:"timeestimate"`
	TimeSpent    int64        `json:"timespent"`
	Comment      *struct {
		Comments []rawComment `json:"comments"`
	} `json:"comment"`
	Assignee *rawAuthor `json:"assignee"`
	Updated  string     `json:"updated"`
	Status   *Status    `json:"status"`
}

type rawIssue struct {
	Key       string         `json:"key"`
	ID        string         `json:"id"`
	Fields    rawFields      `json:"fields"`
	Changelog *rawChangelog  `json:"changelog"`
}

// User is the authenticated tracker account.
type User struct {
	ID             int64  `json:"id"`
	Username       string `json:"username"`
	Email          string `json:"email"`
	Color          string `json:"color,omitempty"`
	ProfilePicture string `json:"profilePicture,omitempty"`
	Initials       string `json:"initials,omitempty"`
	TimeZone       string `json:"timezone,omitempty"`
}

// StatusCategory groups statuses.
type StatusCategory struct {
	ID        any    `json:"id,omitempty"`
	Key       string `json:"key,omitempty"`
	ColorName string `json:"colorName,omitempty"`
	Name      string `json:"name,omitempty"`
}

// Status is a workflow status.
type Status struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	IconURL     string          `json:"iconUrl,omitempty"`
	Category    *StatusCategory `json:"statusCategory,omitempty"`
}

// Transition moves an issue to another status.
type Transition struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	To        Status         `json:"to"`
	HasScreen bool           `json:"hasScreen,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

type Component struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type Attachment struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	Created   string `json:"created"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mimeType"`
	Content   string `json:"content"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// IsImage reports whether the attachment can be shown inline.
func (a Attachment) IsImage() bool {
	switch a.MimeType {
	case "image/gif", "image/jpeg", "image/png":
		return true
	}
	return false
}

// Author is a mapped user reference.
type Author struct {
	AccountID   string `json:"accountId,omitempty"`
	Key         string `json:"key,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"emailAddress,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Active      bool   `json:"active"`
	TimeZone    string `json:"timeZone,omitempty"`
}

type Comment struct {
	ID      string  `json:"id"`
	Author  *Author `json:"author"`
	Body    string  `json:"body"`
	Created string  `json:"created"`
	Updated string  `json:"updated"`
}

type ChangelogEntry struct {
	Author  *Author `json:"author"`
	Created string  `json:"created"`
	Field   string  `json:"field"`
	From    string  `json:"from"`
	To      string  `json:"to"`
}

// Issue is the mapped form of a tracker issue. ID is always the issue key,
// which is what links are built from.
type Issue struct {
	Key          string           `json:"key"`
	ID           string           `json:"id"`
	Summary      string           `json:"summary"`
	Description  *string          `json:"description"`
	Components   []Component      `json:"components"`
	TimeEstimate int64            `json:"timeestimate"`
	TimeSpent    int64            `json:"timespent"`
	Updated      string           `json:"updated"`
	Status       *Status          `json:"status"`
	StoryPoints  *float64         `json:"storyPoints,omitempty"`
	Attachments  []Attachment     `json:"attachments"`
	Comments     []Comment        `json:"comments"`
	Changelog    []ChangelogEntry `json:"changelog"`
	Assignee     *Author          `json:"assignee"`
}

// SearchResult is one issue picker hit.
type SearchResult struct {
	Title            string `json:"title"`
	TitleHighlighted string `json:"titleHighlighted"`
	Key              string `json:"key"`
	Summary          string `json:"summary"`
}

// Worklog is time booked on an issue.
type Worklog struct {
	IssueID   string
	Started   time.Time
	TimeSpent time.Duration
	Comment   string
}
