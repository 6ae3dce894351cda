package activity

import (
	"context"
	"errors"
	"fittrack/apperr"
	"fittrack/store"
	"fittrack/upload"
	"fittrack/ws"
	"fmt"
	"log/slog"
)

type Publisher interface {
	Publish(userID string, ev ws.Event)
}

// Service scopes every activity operation to its owner.
type Service struct {
	store   store.Store
	uploads *upload.Adapter
	events  Publisher
}

func NewService(s store.Store, uploads *upload.Adapter, events Publisher) *Service {
	return &Service{store: s, uploads: uploads, events: events}
}

func notFound(err error) error {
	return apperr.Missing("Activity not found", err)
}

// List returns the owner's activities newest first with photo URLs re-signed.
func (s *Service) List(ctx context.Context, ownerID string) ([]*store.Activity, error) {
	activities, err := s.store.ActivitiesByOwner(ownerID)
	if err != nil {
		return nil, fmt.Errorf("error listing activities: %w", err)
	}
	for _, a := range activities {
		s.resolvePhoto(ctx, a)
	}
	return activities, nil
}

func (s *Service) Get(ctx context.Context, ownerID, activityID string) (*store.Activity, error) {
	a, err := s.owned(ownerID, activityID)
	if err != nil {
		return nil, err
	}
	s.resolvePhoto(ctx, a)
	return a, nil
}

func (s *Service) owned(ownerID, activityID string) (*store.Activity, error) {
	a, err := s.store.ActivityByID(activityID)
	if errors.Is(err, store.ErrActivityNotFound) {
		return nil, notFound(err)
	}
	if err != nil {
		return nil, fmt.Errorf("error getting activity: %w", err)
	}
	if a.OwnerID != ownerID {
		return nil, notFound(fmt.Errorf("activity %s belongs to another user", activityID))
	}
	return a, nil
}

func (s *Service) resolvePhoto(ctx context.Context, a *store.Activity) {
	if a.PhotoKey == "" {
		return
	}
	url, err := s.uploads.URL(ctx, a.PhotoKey)
	if err != nil {
		slog.Warn("Error resolving photo url", "activity", a.ID, "key", a.PhotoKey, "err", err)
		a.PhotoURL = ""
		return
	}
	a.PhotoURL = url
}

// Create stores the photo first, then the record. The photo is removed again
// when the record cannot be written.
func (s *Service) Create(ctx context.Context, ownerID string, d *Draft) (*store.Activity, error) {
	a := &store.Activity{
		OwnerID:         ownerID,
		Type:            string(d.Type),
		Date:            d.Date,
		DurationMinutes: d.DurationMinutes,
		DistanceKm:      d.DistanceKm,
	}

	switch {
	case d.Photo != nil:
		photo, err := s.uploads.Store(ctx, ownerID, d.Photo)
		if err != nil {
			return nil, err
		}
		a.PhotoKey = photo.Key
		if photo.Key == "" {
			a.PhotoURL = photo.URL
		}
	case d.PhotoKey != "":
		if err := s.claimPhotoKey(ctx, ownerID, d.PhotoKey); err != nil {
			return nil, err
		}
		a.PhotoKey = d.PhotoKey
	}

	if err := s.store.CreateActivity(a); err != nil {
		if d.Photo != nil && a.PhotoKey != "" {
			if err := s.uploads.Remove(ctx, a.PhotoKey); err != nil {
				slog.Warn("Error removing orphaned photo", "key", a.PhotoKey, "err", err)
			}
		}
		return nil, fmt.Errorf("error creating activity: %w", err)
	}
	slog.Info("Activity created", "id", a.ID, "owner", ownerID, "type", a.Type)

	s.resolvePhoto(ctx, a)
	s.publish(ownerID, ws.Event{Type: ws.ActivityCreated, ID: a.ID, Activity: a})
	return a, nil
}

// claimPhotoKey accepts a key from a prior upload only if it is the owner's,
// exists in the bucket, and no other activity uses it yet.
func (s *Service) claimPhotoKey(ctx context.Context, ownerID, key string) error {
	if s.uploads.Strategy() != upload.Object {
		return apperr.Invalid("photoKey", "Photo keys are not accepted, attach the photo instead")
	}
	if !upload.Owns(ownerID, key) {
		return apperr.Invalid("photoKey", "Unknown photo")
	}
	used, err := s.referenced(ownerID, key, "")
	if err != nil {
		return err
	}
	if used {
		return apperr.Invalid("photoKey", "Photo is already attached to another activity")
	}
	ok, err := s.uploads.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Invalid("photoKey", "Unknown photo")
	}
	return nil
}

// referenced reports whether an activity other than exceptID points at key.
func (s *Service) referenced(ownerID, key, exceptID string) (bool, error) {
	activities, err := s.store.ActivitiesByOwner(ownerID)
	if err != nil {
		return false, fmt.Errorf("error listing activities: %w", err)
	}
	for _, a := range activities {
		if a.ID != exceptID && a.PhotoKey == key {
			return true, nil
		}
	}
	return false, nil
}

// Delete removes the record and then its stored photo. A missing or foreign
// id is NotFound.
func (s *Service) Delete(ctx context.Context, ownerID, activityID string) error {
	a, err := s.owned(ownerID, activityID)
	if err != nil {
		return err
	}
	err = s.store.DeleteActivity(a.ID)
	if errors.Is(err, store.ErrActivityNotFound) {
		return notFound(err)
	}
	if err != nil {
		return fmt.Errorf("error deleting activity: %w", err)
	}
	s.releasePhoto(ctx, a)
	slog.Info("Activity deleted", "id", a.ID, "owner", ownerID)

	s.publish(ownerID, ws.Event{Type: ws.ActivityDeleted, ID: a.ID})
	return nil
}

func (s *Service) releasePhoto(ctx context.Context, a *store.Activity) {
	if a.PhotoKey == "" {
		return
	}
	used, err := s.referenced(a.OwnerID, a.PhotoKey, a.ID)
	if err != nil {
		slog.Warn("Error checking photo references", "activity", a.ID, "key", a.PhotoKey, "err", err)
		return
	}
	if used {
		slog.Info("Keeping photo still used by another activity", "activity", a.ID, "key", a.PhotoKey)
		return
	}
	if err := s.uploads.Remove(ctx, a.PhotoKey); err != nil {
		slog.Warn("Error removing photo of deleted activity", "activity", a.ID, "key", a.PhotoKey, "err", err)
	}
}

func (s *Service) publish(userID string, ev ws.Event) {
	if s.events != nil {
		s.events.Publish(userID, ev)
	}
}
