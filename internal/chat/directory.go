package chat

import "slices"

// Directory holds the contact list with per-contact preview metadata and
// unseen counters. It is not safe for concurrent use; the Engine owns it
// and serializes all access.
type Directory struct {
	contacts map[string]*Contact
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{contacts: make(map[string]*Contact)}
}

// Replace swaps the entire contact list with the server's view. Unseen
// counters carried by the server response are kept; entries absent from
// the new list are discarded (full replace, no merge).
func (d *Directory) Replace(contacts []Contact) {
	d.contacts = make(map[string]*Contact, len(contacts))
	for _, c := range contacts {
		if c.User.ID == "" {
			continue
		}
		entry := c
		d.contacts[c.User.ID] = &entry
	}
}

// Get returns the contact entry for a user id, or nil if unknown.
func (d *Directory) Get(userID string) *Contact {
	return d.contacts[userID]
}

// Ensure returns the entry for userID, creating a bare one if an inbound
// message references a previously-unknown sender. Identity attributes are
// filled in by the next directory refresh.
func (d *Directory) Ensure(userID string) *Contact {
	if c, ok := d.contacts[userID]; ok {
		return c
	}
	c := &Contact{User: User{ID: userID}}
	d.contacts[userID] = c
	return c
}

// SetPreview patches the preview for a contact, creating the entry if needed.
func (d *Directory) SetPreview(userID string, p Preview) {
	d.Ensure(userID).Preview = p
}

// BumpUnseen increments a contact's unseen counter by one.
func (d *Directory) BumpUnseen(userID string) {
	d.Ensure(userID).UnseenCount++
}

// ResetUnseen zeroes a contact's unseen counter. Other contacts are untouched.
func (d *Directory) ResetUnseen(userID string) {
	if c, ok := d.contacts[userID]; ok {
		c.UnseenCount = 0
	}
}

// UnseenCount returns the unseen counter for a contact (0 if unknown).
func (d *Directory) UnseenCount(userID string) int {
	if c, ok := d.contacts[userID]; ok {
		return c.UnseenCount
	}
	return 0
}

// List returns the contacts sorted by preview timestamp descending.
// Contacts with no messages yet carry the zero time and sort last.
func (d *Directory) List() []Contact {
	out := make([]Contact, 0, len(d.contacts))
	for _, c := range d.contacts {
		out = append(out, *c)
	}
	slices.SortStableFunc(out, func(a, b Contact) int {
		if cmp := b.Preview.Time.Compare(a.Preview.Time); cmp != 0 {
			return cmp
		}
		// Deterministic order for equal timestamps.
		if a.User.ID < b.User.ID {
			return -1
		}
		if a.User.ID > b.User.ID {
			return 1
		}
		return 0
	})
	return out
}

// Len returns the number of directory entries.
func (d *Directory) Len() int {
	return len(d.contacts)
}
