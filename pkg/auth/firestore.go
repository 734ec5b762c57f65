package auth

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
)

// DefaultFirestoreCollection is the collection holding token documents.
const DefaultFirestoreCollection = "amocrm_tokens"

// tokenDocument is the Firestore representation of a token record.
// Collection: amocrm_tokens, Document ID: the account domain
type tokenDocument struct {
	TokenRecord
	UpdatedAt string `firestore:"updated_at,omitempty"`
}

// FirestoreTokenStore keeps the token record in a Firestore document keyed by account domain.
type FirestoreTokenStore struct {
	client     *firestore.Client
	collection string
	docID      string
}

// NewFirestoreTokenStore connects to Firestore in project. credentialsFile may be empty
// to use application default credentials.
func NewFirestoreTokenStore(ctx context.Context, project, collection, domain, credentialsFile string) (*FirestoreTokenStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := firestore.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	if collection == "" {
		collection = DefaultFirestoreCollection
	}

	return &FirestoreTokenStore{
		client:     client,
		collection: collection,
		docID:      domain,
	}, nil
}

// Load fetches the token document. Any lookup failure is reported as ErrTokenNotFound.
func (s *FirestoreTokenStore) Load(ctx context.Context) (*TokenRecord, error) {
	doc, err := s.client.Collection(s.collection).Doc(s.docID).Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenNotFound, err)
	}

	var td tokenDocument
	if err := doc.DataTo(&td); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !td.Complete() {
		return nil, ErrTokenInvalid
	}

	rec := td.TokenRecord
	return &rec, nil
}

// Save overwrites the token document.
func (s *FirestoreTokenStore) Save(ctx context.Context, rec *TokenRecord) error {
	td := tokenDocument{
		TokenRecord: *rec,
		UpdatedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	if _, err := s.client.Collection(s.collection).Doc(s.docID).Set(ctx, td); err != nil {
		return fmt.Errorf("failed to save token to Firestore: %w", err)
	}
	return nil
}

// Close releases the Firestore client.
func (s *FirestoreTokenStore) Close() error {
	return s.client.Close()
}
