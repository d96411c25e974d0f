package common

import (
	"errors"

	"github.com/duzhanyuan/scaliendb/client"
	"github.com/duzhanyuan/scaliendb/config"
)

var ErrNotFound = errors.New("kvs: key not found")

// Client is a key-value client. Every key is sent to the leader of the
// quorum that owns it.
type Client struct {
	conn *client.Conn
}

func Dial(conf *config.Config) (*Client, error) {
	conn, err := client.Dial(conf)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Get(key []byte) ([]byte, error) {
	resp, err := c.do(&MapRequest{Ct: uint32(Read), Key: key})
	if err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, ErrNotFound
	}
	return resp.Value, nil
}

func (c *Client) Set(key, value []byte) error {
	_, err := c.do(&MapRequest{Ct: uint32(Write), Key: key, Value: value})
	return err
}

func (c *Client) Delete(key []byte) error {
	_, err := c.do(&MapRequest{Ct: uint32(Delete), Key: key})
	return err
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) do(req *MapRequest) (*MapResponse, error) {
	buf, err := EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	val, err := c.conn.Send(Shard(req.Key, c.conn.Quorums()), buf)
	if err != nil {
		return nil, err
	}
	resp, err := DecodeResponse(val)
	if err != nil {
		return nil, err
	}
	if resp.Err != "" {
		return nil, errors.New(resp.Err)
	}
	return resp, nil
}
