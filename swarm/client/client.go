// Package client wraps the generic RPC client with typed swarm calls.
package client

import (
	"context"

	"peerage/net/crpc"
	"peerage/swarm/protocol"
)

type Client struct {
	*crpc.Client
}

func Dial(network, address string) (*Client, error) {
	rpcc, err := crpc.Dial(network, address)
	if err != nil {
		return nil, err
	}
	return &Client{Client: rpcc}, nil
}

func (c *Client) PeerSync(ctx context.Context, req *protocol.PeerSyncRequest) (*protocol.PeerSyncResponse, error) {
	res := &protocol.PeerSyncResponse{}
	if err := c.Call(ctx, "Server.PeerSync", req, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) PeerReport(ctx context.Context, req *protocol.PeerReportRequest) (*protocol.PeerReportResponse, error) {
	res := &protocol.PeerReportResponse{}
	if err := c.Call(ctx, "Server.PeerReport", req, res); err != nil {
		return nil, err
	}
	return res, nil
}
