package groups

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const membershipBucket = "memberships"

// Overlay persists runtime membership edits in a bbolt database so they
// survive restarts. Each key is a group name, each value the JSON member
// list as of the last edit.
type Overlay struct {
	db *bolt.DB
}

// OpenOverlay opens or creates the overlay database at path.
func OpenOverlay(path string) (*Overlay, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open membership db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(membershipBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init membership bucket: %w", err)
	}

	return &Overlay{db: db}, nil
}

// SaveGroup records the complete member list of one group.
func (o *Overlay) SaveGroup(group string, members []string) error {
	return o.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(membershipBucket))
		data, err := json.Marshal(members)
		if err != nil {
			return fmt.Errorf("marshal members of %s: %w", group, err)
		}
		return b.Put([]byte(group), data)
	})
}

// Groups returns every group the overlay has an edit for.
func (o *Overlay) Groups() (map[string][]string, error) {
	result := make(map[string][]string)
	err := o.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(membershipBucket))
		return b.ForEach(func(k, v []byte) error {
			var members []string
			if err := json.Unmarshal(v, &members); err != nil {
				return fmt.Errorf("unmarshal group %s: %w", string(k), err)
			}
			result[string(k)] = members
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Close releases the database.
func (o *Overlay) Close() error {
	return o.db.Close()
}
