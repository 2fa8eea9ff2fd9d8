package firestore

import (
	"context"
	"os"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/cockroachdb/errors"
	"google.golang.org/api/option"
)

// NewClient opens Firestore through the Firebase Admin SDK. With an empty
// credentialsFile application default credentials are used; the emulator is
// picked up from FIRESTORE_EMULATOR_HOST.
func NewClient(ctx context.Context, projectID, credentialsFile string) (*firestore.Client, error) {
	var opts []option.ClientOption
	switch {
	case os.Getenv("FIRESTORE_EMULATOR_HOST") != "":
		opts = append(opts, option.WithoutAuthentication())
	case credentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "init firebase app")
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "open firestore")
	}
	return client, nil
}
