// Package client is the resilient configuration loader used by services that
// depend on the secrets gateway.
//
// A Client waits for the gateway to become ready, fetches every configured
// section with a bounded retry envelope, validates and coerces each section
// and returns an immutable Snapshot. Sections that cannot be fetched or fail
// validation fall back to safe defaults and are reported as Degraded; the
// jwt section, which has no safe default, falls back to a locally generated
// signing key. Only a gateway that never becomes ready fails Load, and even
// that can be downgraded with Config.AllowDegradedStart.
//
// The client never mutates the process environment. Snapshot.Environ renders
// the environment view for callers that need one.
//
// Usage:
//
//	c := client.New(secretshandler.NewClient("http://secrets-gateway:3004"), client.Config{
//		ServiceName: "auth-service",
//	})
//	snap, err := c.Load(ctx)
//	if err != nil {
//		return err
//	}
//	db, err := sql.Open("mysql", snap.Database.DSN())
package client
