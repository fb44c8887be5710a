// Package pipeline executes remote operations with retries.
//
// Each call to Execute builds a fresh request from a request.Spec, runs the
// configured hooks, signs it, and sends it through a transport.Transport.
// The response is parsed by the operation's protocol parser and, together
// with any transport error, handed to every retry policy registered for the
// operation. The first policy that asks for a retry sets the delay; the
// request body is rewound and, once the delay has elapsed, the request is
// rebuilt and re-signed for the next send.
//
//	p, err := pipeline.New(pipeline.Options{
//		Endpoint:  ep,
//		Transport: tr,
//		Signer:    signer.NewV4Signer(creds),
//		Registry:  reg,
//	})
//	res, err := p.Execute(ctx, &request.Spec{Body: request.String(`{"TableName":"t"}`)},
//		pipeline.Operation{Name: "DescribeTable", Protocol: parser.ProtocolJSON})
//
// A body that cannot be rewound is sent once: policies still observe the
// attempt but their decision is not acted on.
package pipeline
