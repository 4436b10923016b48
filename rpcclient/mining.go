package rpcclient

import (
	"bytes"
	"encoding/json"

	"github.com/vecocoin/vecominer/rpcjson"
)

// FutureGenerateToAddressResult is a future promise to deliver the result of
// a GenerateToAddressAsync RPC invocation (or an applicable error).
type FutureGenerateToAddressResult chan *Response

// Receive waits for the Response promised by the future and returns the hashes
// of the blocks generated by the call, if any.  A nil slice with a nil error
// means the call completed without finding a block.
func (r FutureGenerateToAddressResult) Receive() ([]string, error) {
	res, err := ReceiveFuture(r)
	if err != nil {
		return nil, err
	}

	// A null or empty result means the endpoint performed the requested
	// iterations without producing a block.
	if len(res) == 0 || bytes.Equal(res, []byte("null")) {
		return nil, nil
	}

	// Unmarshal result as a list of block hash strings.
	var blockHashes []string
	if err := json.Unmarshal(res, &blockHashes); err != nil {
		// Some server versions return a single hash string rather
		// than a list.
		var blockHash string
		if err2 := json.Unmarshal(res, &blockHash); err2 != nil {
			return nil, err
		}
		if blockHash == "" {
			return nil, nil
		}
		return []string{blockHash}, nil
	}

	return blockHashes, nil
}

// GenerateToAddressAsync returns an instance of a type that can be used to
// get the result of the RPC at some future time by invoking the Receive
// function on the returned instance.
//
// See GenerateToAddress for the blocking version and more details.
func (c *Client) GenerateToAddressAsync(numBlocks int64, address string, iterations *int64) FutureGenerateToAddressResult {
	cmd := rpcjson.NewGenerateToAddressCmd(numBlocks, address, iterations)
	return c.SendCmd(cmd)
}

// GenerateToAddress asks the remote endpoint to perform the given number of
// proof-of-work iterations toward generating numBlocks blocks that pay to the
// passed address, returning the hashes of any blocks it produced.
func (c *Client) GenerateToAddress(numBlocks int64, address string, iterations int64) ([]string, error) {
	return c.GenerateToAddressAsync(numBlocks, address, &iterations).Receive()
}
