// Package affinity is the Go client for the Affinity personalization
// platform.
//
// A Client exposes three operations:
//   - Collect: fire-and-forget behavioural events over a persistent
//     realtime channel. Best effort; never returns an error.
//   - Recommend: recommendation retrieval over HTTP. Failures propagate.
//   - Predict: prediction scoring over HTTP. Failures propagate.
//
// The client owns exactly one channel for its whole lifetime and keeps
// it healthy itself: every Collect first forces the channel into a
// known-good state, tearing it down and re-establishing it if it is
// anything other than connected.
//
// Usage:
//
//	client, err := affinity.New(affinity.Config{
//		APIKey:      os.Getenv("AFFINITY_API_KEY"),
//		Environment: affinity.Live,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.Collect(ctx, affinity.CollectionEvent{
//		Type:      affinity.EventClick,
//		ProductID: 42,
//		UserID:    "u-123",
//	})
package affinity
