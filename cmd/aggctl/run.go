package main

import (
	"context"
	"fmt"

	"github.com/matthewdale/mongo-agg/agg"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func run() cli.Command {
	return cli.Command{
		Name:  "run",
		Usage: "run the pipeline a definition file builds and print the results",
		Flags: mergeFlagSlices(
			addFileFlag(),
			[]cli.Flag{
				cli.StringFlag{
					Name:     joinFlagNames(collectionFlagName, "C"),
					Usage:    "collection to aggregate",
					Required: true,
				},
				cli.StringFlag{
					Name:  databaseFlagName,
					Usage: "database holding the collection (defaults to the configured database)",
				},
				cli.StringFlag{
					Name:  uriFlagName,
					Usage: "MongoDB connection string (defaults to the configured URI)",
				},
				cli.Int64Flag{
					Name:  joinFlagNames(limitFlagName, "l"),
					Usage: "maximum number of results to print (0 for all)",
				},
				cli.BoolFlag{
					Name:  joinFlagNames("show", "v"),
					Usage: "log the pipeline before running it",
				},
			}),
		Action: func(c *cli.Context) error {
			conf, err := loadConfig(c)
			if err != nil {
				return err
			}
			uri := c.String(uriFlagName)
			if uri == "" {
				uri = conf.URI
			}
			db := c.String(databaseFlagName)
			if db == "" {
				db = conf.Database
			}
			limit := c.Int64(limitFlagName)

			ctx := context.Background()
			client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
			if err != nil {
				return errors.Wrap(err, "error connecting to MongoDB")
			}
			defer func() {
				grip.Warning(message.WrapError(client.Disconnect(ctx), "error disconnecting from MongoDB"))
			}()

			coll := client.Database(db).Collection(c.String(collectionFlagName))
			b := agg.New(coll, agg.WithAggregateOptions(options.Aggregate().SetAllowDiskUse(*conf.AllowDiskUse)))
			if _, err := buildFromFile(c.String(fileFlagName), b); err != nil {
				return err
			}
			b.If(limit > 0).Limit(limit)
			if c.Bool("show") {
				b.Show(0)
			}

			grip.Debug(message.Fields{
				"message":    "running aggregation",
				"database":   db,
				"collection": coll.Name(),
			})
			cur, err := b.Commit(ctx)
			if err != nil {
				return err
			}
			defer cur.Close(ctx)

			var n int
			for cur.Next(ctx) {
				out, err := bson.MarshalExtJSON(cur.Current, false, false)
				if err != nil {
					return errors.Wrap(err, "error formatting result")
				}
				fmt.Println(string(out))
				n++
			}
			if err := cur.Err(); err != nil {
				return errors.Wrap(err, "error reading results")
			}
			grip.Infof("%d results", n)
			return nil
		},
	}
}
