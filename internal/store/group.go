package store

import (
	"go.uber.org/zap"
)

// UpsertGroup inserts the group or, when a record with the same GroupID
// exists, updates its name and active flag. Returns the resulting record.
func (s *Store) UpsertGroup(in GroupInput) (Group, error) {
	s.groups.mu.Lock()
	defer s.groups.mu.Unlock()

	groups := s.groups.loadOrDefault(s.logger)
	now := s.now()

	idx := -1
	for i := range groups {
		if groups[i].GroupID == in.GroupID {
			idx = i
			break
		}
	}

	if idx >= 0 {
		if in.Name != "" {
			groups[idx].Name = in.Name
		}
		if in.IsActive != nil {
			groups[idx].IsActive = *in.IsActive
		}
		groups[idx].UpdatedAt = now
	} else {
		active := true
		if in.IsActive != nil {
			active = *in.IsActive
		}
		name := in.Name
		if name == "" {
			name = DefaultGroupName
		}
		groups = append(groups, Group{
			ID:        s.ids.next(now),
			GroupID:   in.GroupID,
			Name:      name,
			IsActive:  active,
			CreatedAt: now,
			UpdatedAt: now,
		})
		idx = len(groups) - 1
	}

	if err := s.groups.save(groups); err != nil {
		return Group{}, err
	}
	s.logger.Info("group upserted", zap.String("group_id", in.GroupID), zap.String("name", groups[idx].Name))
	return groups[idx], nil
}

// GetGroup returns the group with the given GroupID.
func (s *Store) GetGroup(groupID string) (Group, bool) {
	for _, g := range s.readGroups() {
		if g.GroupID == groupID {
			return g, true
		}
	}
	return Group{}, false
}

// IsGroupActive reports whether messages from groupID should be processed.
// Groups never seen before count as active.
func (s *Store) IsGroupActive(groupID string) bool {
	g, ok := s.GetGroup(groupID)
	return !ok || g.IsActive
}

// GetActiveGroups returns the groups whose IsActive flag is set, in storage order.
func (s *Store) GetActiveGroups() []Group {
	active := []Group{}
	for _, g := range s.readGroups() {
		if g.IsActive {
			active = append(active, g)
		}
	}
	return active
}

// SetGroupActive flips the active flag of a known group. Unknown ids are ignored.
func (s *Store) SetGroupActive(groupID string, isActive bool) error {
	s.groups.mu.Lock()
	defer s.groups.mu.Unlock()

	groups := s.groups.loadOrDefault(s.logger)
	for i := range groups {
		if groups[i].GroupID != groupID {
			continue
		}
		groups[i].IsActive = isActive
		groups[i].UpdatedAt = s.now()
		if err := s.groups.save(groups); err != nil {
			return err
		}
		s.logger.Info("group active flag set", zap.String("group_id", groupID), zap.Bool("active", isActive))
		return nil
	}
	return nil
}

func (s *Store) readGroups() []Group {
	return s.groups.snapshot(s.logger)
}
