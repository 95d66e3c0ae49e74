package serializer

// IPayload is implemented by all message bodies carried in a frame payload
type IPayload interface {
	// Serialize encodes the message body into a byte array
	Serialize() []byte
	// Deserialize decodes a byte array into the message body
	// It returns an error if the data is malformed or a required field is missing
	Deserialize(b []byte) error
}
