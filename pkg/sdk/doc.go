// Package ledgerlens provides an embedded Go client for the ledgerlens
// reconciliation pipeline. The client runs the full pipeline in-process:
// no HTTP server is required, only a storage directory and an embedding
// provider.
//
//	client, _ := ledgerlens.New(
//	    ledgerlens.WithStorageRoot("./storage"),
//	    ledgerlens.WithOpenAI(os.Getenv("OPENAI_API_KEY"), ""),
//	)
//	stats, _ := client.Ingest(ctx, evidence)
//	report, _ := client.ReconcileRetrieval(ctx, txns)
//
// Transactions are loose field maps (CSV rows, API payloads); field names
// like "Transaction_ID", "Vendor" or "Memo" are normalized automatically.
package ledgerlens
