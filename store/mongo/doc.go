// Package mongo implements store.Store on the official MongoDB driver.
// This is the reference backend: the claim protocol maps directly onto
// a single FindOneAndUpdate, so lock acquisition is one atomic
// round-trip even with many worker processes sharing the collection.
//
// The caller owns the *mongo.Client lifecycle — the store never closes
// it. Pass the client through the constructor:
//
//	import (
//	    mongod "go.mongodb.org/mongo-driver/v2/mongo"
//	    "github.com/xraph/chrono/store/mongo"
//	)
//
//	client, _ := mongod.Connect(options.Client().ApplyURI(uri))
//	store := mongo.New(client, "scheduling")
//	store.Migrate(ctx)
package mongo
