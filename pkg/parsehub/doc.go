// Package parsehub is a client for the ParseHub scrape-job API.
//
// Every call sends exactly one request, authenticated with the API key given
// to NewClient, and returns either the extracted value or an error:
//
//	c, err := parsehub.NewClient(os.Getenv("PARSEHUB_API_KEY"))
//	if err != nil {
//		return err
//	}
//	runToken, err := c.RunJob(ctx, parsehub.RunJobOptions{Token: jobToken})
//
// Errors fall into three groups. Missing identifiers wrap ErrValidation and
// are reported before any request is made. Non-200 responses return an
// *APIError whose message is the response body. Undecodable 200 responses
// return ErrDecode.
//
// The Async methods run the request on a goroutine and deliver the outcome to
// a Handler exactly once.
package parsehub
