package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore maps record paths onto Firestore documents. Paths of the
// meal engine alternate collection/document segments, so users/{uid} and
// users/{uid}/events/{id} are documents and users/{uid}/events is a
// collection.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func (s *FirestoreStore) doc(path string) (*firestore.DocumentRef, string, error) {
	p, err := cleanPath(path)
	if err != nil {
		return nil, "", err
	}
	ref := s.client.Doc(p)
	if ref == nil {
		return nil, "", fmt.Errorf("%w: %s is not a document path", ErrInvalidPath, p)
	}
	return ref, p, nil
}

func (s *FirestoreStore) collection(path string) (*firestore.CollectionRef, string, error) {
	p, err := cleanPath(path)
	if err != nil {
		return nil, "", err
	}
	ref := s.client.Collection(p)
	if ref == nil {
		return nil, "", fmt.Errorf("%w: %s is not a collection path", ErrInvalidPath, p)
	}
	return ref, p, nil
}

func (s *FirestoreStore) Get(ctx context.Context, path string) (json.RawMessage, error) {
	ref, p, err := s.doc(path)
	if err != nil {
		return nil, err
	}

	snap, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, unavailable("get", p, err)
	}
	return json.Marshal(snap.Data())
}

func (s *FirestoreStore) List(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	ref, p, err := s.collection(path)
	if err != nil {
		return nil, err
	}

	snaps, err := ref.Documents(ctx).GetAll()
	if err != nil {
		return nil, unavailable("list", p, err)
	}
	return snapshotsToMap(snaps)
}

// Keys includes documents that only exist as parents of subcollections.
func (s *FirestoreStore) Keys(ctx context.Context, path string) ([]string, error) {
	ref, p, err := s.collection(path)
	if err != nil {
		return nil, err
	}

	var keys []string
	iter := ref.DocumentRefs(ctx)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, unavailable("keys", p, err)
		}
		keys = append(keys, doc.ID)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FirestoreStore) Set(ctx context.Context, path string, value any) error {
	ref, p, err := s.doc(path)
	if err != nil {
		return err
	}
	data, err := toDocument(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", p, err)
	}
	if _, err := ref.Set(ctx, data); err != nil {
		return unavailable("set", p, err)
	}
	return nil
}

func (s *FirestoreStore) Update(ctx context.Context, path string, fields map[string]any) error {
	ref, p, err := s.doc(path)
	if err != nil {
		return err
	}
	data, err := toDocument(fields)
	if err != nil {
		return fmt.Errorf("encode %s: %w", p, err)
	}

	updates := make([]firestore.Update, 0, len(data))
	for k, v := range data {
		updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{k}, Value: v})
	}
	if _, err := ref.Update(ctx, updates); err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		return unavailable("update", p, err)
	}
	return nil
}

func (s *FirestoreStore) Remove(ctx context.Context, path string) error {
	ref, p, err := s.doc(path)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return unavailable("remove", p, err)
	}
	return nil
}

// Push uses UUIDv7 document IDs so that key order follows arrival order;
// Firestore's own auto IDs are random.
func (s *FirestoreStore) Push(ctx context.Context, path string, value any) (string, error) {
	key, err := NewPushKey()
	if err != nil {
		return "", err
	}
	if err := s.Set(ctx, path+"/"+key, value); err != nil {
		return "", err
	}
	return key, nil
}

func (s *FirestoreStore) Transaction(ctx context.Context, path string, fn TxFunc) error {
	ref, p, err := s.doc(path)
	if err != nil {
		return err
	}

	var fnErr error
	err = s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		fnErr = nil
		var current json.RawMessage
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			current, err = json.Marshal(snap.Data())
			if err != nil {
				fnErr = err
				return err
			}
		case status.Code(err) == codes.NotFound:
		default:
			return err
		}

		next, err := fn(current)
		if err != nil {
			fnErr = err
			return err
		}
		if next == nil {
			return tx.Delete(ref)
		}
		data, err := toDocument(next)
		if err != nil {
			fnErr = fmt.Errorf("encode %s: %w", p, err)
			return fnErr
		}
		return tx.Set(ref, data)
	})
	if err != nil {
		if fnErr != nil {
			return fnErr
		}
		return unavailable("transaction", p, err)
	}
	return nil
}

func (s *FirestoreStore) Subscribe(ctx context.Context, path string, fn func(map[string]json.RawMessage)) (func(), error) {
	ref, p, err := s.collection(path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		iter := ref.Snapshots(ctx)
		defer iter.Stop()

		for {
			qs, err := iter.Next()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, iterator.Done) {
					return
				}
				// Snapshot listeners do not recover after an error.
				log.Printf("Store: snapshot listener on %s stopped: %v", p, err)
				return
			}
			snaps, err := qs.Documents.GetAll()
			if err != nil {
				continue
			}
			children, err := snapshotsToMap(snaps)
			if err != nil {
				continue
			}
			fn(children)
		}
	}()

	return func() {
		cancel()
		<-done
	}, nil
}

func snapshotsToMap(snaps []*firestore.DocumentSnapshot) (map[string]json.RawMessage, error) {
	children := make(map[string]json.RawMessage, len(snaps))
	for _, snap := range snaps {
		raw, err := json.Marshal(snap.Data())
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", snap.Ref.Path, err)
		}
		children[snap.Ref.ID] = raw
	}
	return children, nil
}

// toDocument normalizes any JSON-encodable value into the map form Firestore
// accepts.
func toDocument(value any) (map[string]any, error) {
	raw, err := toRaw(value)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("record is not an object: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}
