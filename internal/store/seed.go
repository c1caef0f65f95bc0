package store

import (
	"encoding/json"
	"fmt"
	"os"
)

// Seed is the fixture format accepted by the memory store mode.
type Seed struct {
	Groups []struct {
		ID      int64   `json:"id"`
		Name    string  `json:"name"`
		OwnerID int64   `json:"ownerId"`
		Members []int64 `json:"members"`
	} `json:"groups"`
	Folders []struct {
		ID      int64  `json:"id"`
		GroupID int64  `json:"groupId"`
		Name    string `json:"name"`
	} `json:"folders"`
	Resources []struct {
		ID       int64        `json:"id"`
		FolderID int64        `json:"folderId"`
		Title    string       `json:"title"`
		Type     ResourceType `json:"type"`
		Data     string       `json:"data"`
		Ratings  []int        `json:"ratings"`
	} `json:"resources"`
}

// LoadSeedFile reads a JSON seed file into the store.
func (s *MemoryStore) LoadSeedFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("decode seed: %w", err)
	}
	s.ApplySeed(seed)
	return nil
}

func (s *MemoryStore) ApplySeed(seed Seed) {
	for _, g := range seed.Groups {
		s.PutGroup(Group{ID: g.ID, Name: g.Name, OwnerID: g.OwnerID})
		for _, userID := range g.Members {
			s.AddMember(g.ID, userID)
		}
	}
	for _, f := range seed.Folders {
		s.PutFolder(Folder{ID: f.ID, GroupID: f.GroupID, Name: f.Name})
	}
	for _, r := range seed.Resources {
		s.PutResource(Resource{ID: r.ID, FolderID: r.FolderID, Title: r.Title, Type: r.Type, Data: r.Data})
		for i, rating := range r.Ratings {
			s.AddReview(Review{ResourceID: r.ID, UserID: int64(i + 1), Rating: rating})
		}
	}
}
