// Package encoder turns text into sentence embeddings with a local ONNX
// transformer encoder and CLS or mean pooling.
//
// Quick start:
//
//	enc, err := encoder.New(
//	    encoder.WithModelDir("models/"),
//	    encoder.WithPooling(pooling.Mean),
//	    encoder.WithNormalize(true),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer enc.Close()
//
//	vec, _ := enc.Encode("connection refused to db-primary:5432")
//
// An Encoder is safe for concurrent use. Create once, reuse across requests.
package encoder
