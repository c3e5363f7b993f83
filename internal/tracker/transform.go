package tracker

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/trackerbridge/internal/ipc"
)

// ErrUnexpectedShape is returned when a tracker payload cannot be mapped.
var ErrUnexpectedShape = errors.New("unexpected tracker payload")

// decodeAs re-encodes a generically decoded payload into T.
func decodeAs[T any](payload any) (T, error) {
	var out T
	raw, err := sonic.Marshal(payload)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	return out, nil
}

func mapUser(payload any, _ ipc.AuthConfig) (any, error) {
	w, err := decodeAs[struct {
		User *User `json:"user"`
	}](payload)
	if err != nil {
		return nil, err
	}
	if w.User != nil {
		return *w.User, nil
	}
	u, err := decodeAs[User](payload)
	if err != nil {
		return nil, err
	}
	if u.ID == 0 && u.Username == "" && u.Email == "" {
		return nil, fmt.Errorf("%w: no user in response", ErrUnexpectedShape)
	}
	return u, nil
}

func mapStatuses(payload any, _ ipc.AuthConfig) (any, error) {
	return decodeAs[[]Status](payload)
}

func mapTransitions(payload any, _ ipc.AuthConfig) (any, error) {
	res, err := decodeAs[struct {
		Transitions []Transition `json:"transitions"`
	}](payload)
	if err != nil {
		return nil, err
	}
	if res.Transitions == nil {
		return []Transition{}, nil
	}
	return res.Transitions, nil
}

func mapAuthor(a *rawAuthor) *Author {
	if a == nil {
		return nil
	}
	return &Author{
		AccountID:   a.AccountID,
		Key:         a.Key,
		DisplayName: a.DisplayName,
		Email:       a.Email,
		AvatarURL:   a.AvatarURLs["48x48"],
		Active:      a.Active,
		TimeZone:    a.TimeZone,
	}
}

// issueMapper returns a transform mapping an issue response; story points
// are read from the configured custom field.
func issueMapper(storyPointField string) func(any, ipc.AuthConfig) (any, error) {
	return func(payload any, _ ipc.AuthConfig) (any, error) {
		raw, err := decodeAs[rawIssue](payload)
		if err != nil {
			return nil, err
		}
		if raw.Key == "" {
			return nil, fmt.Errorf("%w: issue without key", ErrUnexpectedShape)
		}
		issue := mapIssue(raw)
		if storyPointField != "" {
			issue.StoryPoints = storyPoints(payload, storyPointField)
		}
		return issue, nil
	}
}

func mapIssue(raw rawIssue) Issue {
	f := raw.Fields
	issue := Issue{
		Key:          raw.Key,
		ID:           raw.Key,
		Summary:      f.Summary,
		Description:  f.Description,
		Components:   f.Components,
		TimeEstimate: f.TimeEstimate,
		TimeSpent:    f.TimeSpent,
		Updated:      f.Updated,
		Status:       f.Status,
		Assignee:     mapAuthor(f.Assignee),
		Attachments:  f.Attachment,
		Comments:     []Comment{},
		Changelog:    []ChangelogEntry{},
	}
	if issue.Components == nil {
		issue.Components = []Component{}
	}
	if issue.Attachments == nil {
		issue.Attachments = []Attachment{}
	}
	if f.Comment != nil {
		for _, c := range f.Comment.Comments {
			issue.Comments = append(issue.Comments, Comment{
				ID:      c.ID,
				Author:  mapAuthor(c.Author),
				Body:    c.Body,
				Created: c.Created,
				Updated: c.Updated,
			})
		}
	}
	if raw.Changelog != nil {
		for _, h := range raw.Changelog.Histories {
			for _, item := range h.Items {
				issue.Changelog = append(issue.Changelog, ChangelogEntry{
					Author:  mapAuthor(h.Author),
					Created: h.Created,
					Field:   item.Field,
					From:    item.FromString,
					To:      item.ToString,
				})
			}
		}
	}
	return issue
}

func storyPoints(payload any, field string) *float64 {
	m, ok := payload.(map[string]any)
	if !ok {
		return nil
	}
	fields, ok := m["fields"].(map[string]any)
	if !ok {
		return nil
	}
	switch v := fields[field].(type) {
	case float64:
		return &v
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return &f
		}
	}
	return nil
}

func mapIssues(storyPointField string) func(any, ipc.AuthConfig) (any, error) {
	one := issueMapper(storyPointField)
	return func(payload any, auth ipc.AuthConfig) (any, error) {
		res, err := decodeAs[struct {
			Issues []map[string]any `json:"issues"`
		}](payload)
		if err != nil {
			return nil, err
		}
		issues := make([]Issue, 0, len(res.Issues))
		for _, raw := range res.Issues {
			v, err := one(raw, auth)
			if err != nil {
				return nil, err
			}
			issues = append(issues, v.(Issue))
		}
		return issues, nil
	}
}

func mapSearchResults(payload any, _ ipc.AuthConfig) (any, error) {
	res, err := decodeAs[struct {
		Sections []struct {
			Issues []struct {
				Key         string `json:"key"`
				Summary     string `json:"summary"`
				SummaryText string `json:"summaryText"`
			} `json:"issues"`
		} `json:"sections"`
	}](payload)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	results := []SearchResult{}
	for _, s := range res.Sections {
		for _, is := range s.Issues {
			if _, dup := seen[is.Key]; dup {
				continue
			}
			seen[is.Key] = struct{}{}
			results = append(results, SearchResult{
				Title:            is.Key + " " + is.SummaryText,
				TitleHighlighted: is.Key + " " + is.Summary,
				Key:              is.Key,
				Summary:          is.SummaryText,
			})
		}
	}
	return results, nil
}
