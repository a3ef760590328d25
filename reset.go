package smp

// Reset sends a Default/Reset request and validates the reply, per
// §4.6.
func Reset(client *Client) error {
	req := struct{}{}

	reqHeader, rspHeader, rsp, err := client.Transceive(OpWrite, GroupDefault, IDDefaultReset, req)
	if err != nil {
		return err
	}
	if err := validateEnvelope(reqHeader, rspHeader); err != nil {
		return err
	}
	return rcError(rsp)
}
