// NOTE: This file is intended to house the RPC commands that are supported by
// the block-generation endpoint of a veco chain server.

package rpcjson

// GenerateToAddressCmd defines the generatetoaddress JSON-RPC command.
//
// The veco endpoint interprets the third positional parameter as the number
// of proof-of-work iterations to perform for this request rather than the
// maximum number of attempts, so the field is named accordingly.
type GenerateToAddressCmd struct {
	NumBlocks  int64
	Address    string
	Iterations *int64
}

// NewGenerateToAddressCmd returns a new instance which can be used to issue a
// generatetoaddress JSON-RPC command.
//
// The parameters which are pointers indicate they are optional.  Passing nil
// for optional parameters will use the endpoint default.
func NewGenerateToAddressCmd(numBlocks int64, address string, iterations *int64) *GenerateToAddressCmd {
	return &GenerateToAddressCmd{
		NumBlocks:  numBlocks,
		Address:    address,
		Iterations: iterations,
	}
}

func init() {
	MustRegisterCmd("generatetoaddress", (*GenerateToAddressCmd)(nil))
}
