package state

// User is a logical chat identity. It is created on first successful
// authentication from an address, survives reconnection from the same
// address, and is destroyed only by explicit moderation removal.
type User struct {
	// Host is the address the user last authenticated from (host only,
	// the port changes across reconnects).
	Host string

	// Name is the display form; NormName the filtered, normalized form
	// that uniqueness and lookups key on.
	Name     string
	NormName string

	// Tags is the ordered permission overlay. TagInfo carries free-form
	// per-tag metadata such as a ban or mute reason.
	Tags    []*Tag
	TagInfo map[string]string
}

func NewUser(host string) *User {
	return &User{
		Host:    host,
		Tags:    []*Tag{TagDefault},
		TagInfo: make(map[string]string),
	}
}

func (u *User) SetName(display, normalized string) {
	u.Name = display
	u.NormName = normalized
}

func (u *User) HasTag(t *Tag) bool {
	for _, have := range u.Tags {
		if have.Name == t.Name {
			return true
		}
	}
	return false
}

func (u *User) AddTag(t *Tag) {
	if !u.HasTag(t) {
		u.Tags = append(u.Tags, t)
	}
}

func (u *User) RemoveTag(t *Tag) {
	for i, have := range u.Tags {
		if have.Name == t.Name {
			u.Tags = append(u.Tags[:i], u.Tags[i+1:]...)
			return
		}
	}
}

// CheckRight reports whether the right resolves to value. Only the
// highest-level tag that defines the right contributes; tags that do not
// mention it are ignored regardless of level.
func (u *User) CheckRight(right string, value bool) bool {
	result := false
	level := 0
	for _, t := range u.Tags {
		if t.Level > level {
			if granted, defined := t.Rights[right]; defined {
				result = granted == value
				level = t.Level
			}
		}
	}
	return result
}

// TagReason returns the metadata recorded when tagName was attached,
// e.g. the ban reason.
func (u *User) TagReason(tagName string) string {
	return u.TagInfo[tagName]
}
