package db

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ukydev/fleet-dispatch/internal/trip"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const imageRefPrefix = "gridfs:"

var _ trip.ImageStore = (*GridFSImageStore)(nil)

// GridFSImageStore keeps delivery photos in a GridFS bucket.
type GridFSImageStore struct {
	bucket *gridfs.Bucket
}

// NewGridFSImageStore opens the delivery image bucket of database.
func NewGridFSImageStore(database *mongo.Database) (*GridFSImageStore, error) {
	bucket, err := gridfs.NewBucket(database, options.GridFSBucket().SetName(ImagesBucket))
	if err != nil {
		return nil, fmt.Errorf("open gridfs bucket: %w", err)
	}
	return &GridFSImageStore{bucket: bucket}, nil
}

// Upload streams r into the bucket and returns a reference to the stored file.
func (s *GridFSImageStore) Upload(ctx context.Context, tripID, name string, r io.Reader) (string, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := s.bucket.SetWriteDeadline(deadline); err != nil {
			return "", err
		}
	}
	opts := options.GridFSUpload().SetMetadata(bson.M{"trip_id": tripID})
	id, err := s.bucket.UploadFromStream(name, r, opts)
	if err != nil {
		return "", err
	}
	return imageRefPrefix + id.Hex(), nil
}

// Open returns a reader over the stored file.
func (s *GridFSImageStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	id, err := parseImageRef(ref)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := s.bucket.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
	}
	stream, err := s.bucket.OpenDownloadStream(id)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// Delete removes the stored file.
func (s *GridFSImageStore) Delete(ctx context.Context, ref string) error {
	id, err := parseImageRef(ref)
	if err != nil {
		return err
	}
	return s.bucket.DeleteContext(ctx, id)
}

func parseImageRef(ref string) (primitive.ObjectID, error) {
	hex, ok := strings.CutPrefix(ref, imageRefPrefix)
	if !ok {
		return primitive.NilObjectID, fmt.Errorf("not a gridfs image reference: %q", ref)
	}
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("invalid image reference: %w", err)
	}
	return id, nil
}
