package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	lzerrors "github.com/cloudkeel/landingzone/internal/errors"
)

// KeyPair is the material returned by a key-pair creation.
type KeyPair struct {
	Name        string
	Fingerprint string
	Material    string // PEM-encoded private key
}

// PeeringConnection is the adapter-level view of a VPC peering connection.
type PeeringConnection struct {
	Id        string
	Status    string // pending-acceptance, active, deleted, ...
	PeerCidr  string
	PeerVpcId string
}

// EC2 wraps the EC2 operations the resolver and the handshake engine use.
// Constructed per target account/region from a CrossAccount config when the
// operation runs outside the management account.
type EC2 interface {
	CreateKeyPair(ctx context.Context, name string) (KeyPair, error)
	ActiveAvailabilityZones(ctx context.Context) ([]string, error)

	DescribeVpcCidr(ctx context.Context, vpcID string) (string, error)
	FindPeeringConnection(ctx context.Context, requesterVpcID, accepterVpcID string) (*PeeringConnection, error)
	CreatePeeringConnection(ctx context.Context, vpcID, peerVpcID, peerOwnerID, peerRegion string) (PeeringConnection, error)
	AcceptPeeringConnection(ctx context.Context, peeringID string) (string, error)
	DeletePeeringConnection(ctx context.Context, peeringID string) error
	DescribePeeringConnection(ctx context.Context, peeringID string) (*PeeringConnection, error)
}

type ec2Service struct {
	client *ec2.Client
}

// NewEC2 creates the EC2 adapter from an aws.Config so it can target any
// account/region pair.
func NewEC2(cfg aws.Config) EC2 {
	return &ec2Service{client: ec2.NewFromConfig(cfg)}
}

func (s *ec2Service) CreateKeyPair(ctx context.Context, name string) (KeyPair, error) {
	result, err := s.client.CreateKeyPair(ctx, &ec2.CreateKeyPairInput{
		KeyName: aws.String(name),
	})
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to create key pair %s: %w", name, err)
	}
	return KeyPair{
		Name:        aws.ToString(result.KeyName),
		Fingerprint: aws.ToString(result.KeyFingerprint),
		Material:    aws.ToString(result.KeyMaterial),
	}, nil
}

func (s *ec2Service) ActiveAvailabilityZones(ctx context.Context) ([]string, error) {
	result, err := s.client.DescribeAvailabilityZones(ctx, &ec2.DescribeAvailabilityZonesInput{
		Filters: []types.Filter{
			{Name: aws.String("state"), Values: []string{"available"}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe availability zones: %w", err)
	}
	var zones []string
	for _, az := range result.AvailabilityZones {
		zones = append(zones, aws.ToString(az.ZoneName))
	}
	return zones, nil
}

func (s *ec2Service) DescribeVpcCidr(ctx context.Context, vpcID string) (string, error) {
	result, err := s.client.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{
		VpcIds: []string{vpcID},
	})
	if err != nil {
		return "", fmt.Errorf("failed to describe vpc %s: %w", vpcID, err)
	}
	if len(result.Vpcs) == 0 {
		return "", fmt.Errorf("vpc %s not found", vpcID)
	}
	return aws.ToString(result.Vpcs[0].CidrBlock), nil
}

func (s *ec2Service) FindPeeringConnection(ctx context.Context, requesterVpcID, accepterVpcID string) (*PeeringConnection, error) {
	result, err := s.client.DescribeVpcPeeringConnections(ctx, &ec2.DescribeVpcPeeringConnectionsInput{
		Filters: []types.Filter{
			{Name: aws.String("requester-vpc-info.vpc-id"), Values: []string{requesterVpcID}},
			{Name: aws.String("accepter-vpc-info.vpc-id"), Values: []string{accepterVpcID}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe peering connections: %w", err)
	}
	for _, pcx := range result.VpcPeeringConnections {
		status := string(pcx.Status.Code)
		if status == "deleted" || status == "failed" || status == "rejected" {
			continue
		}
		return newPeeringConnection(pcx), nil
	}
	return nil, nil
}

func (s *ec2Service) CreatePeeringConnection(ctx context.Context, vpcID, peerVpcID, peerOwnerID, peerRegion string) (PeeringConnection, error) {
	input := &ec2.CreateVpcPeeringConnectionInput{
		VpcId:       aws.String(vpcID),
		PeerVpcId:   aws.String(peerVpcID),
		PeerOwnerId: aws.String(peerOwnerID),
	}
	if peerRegion != "" {
		input.PeerRegion = aws.String(peerRegion)
	}

	result, err := s.client.CreateVpcPeeringConnection(ctx, input)
	if err != nil {
		return PeeringConnection{}, fmt.Errorf("failed to create peering connection %s -> %s: %w", vpcID, peerVpcID, err)
	}
	return *newPeeringConnection(*result.VpcPeeringConnection), nil
}

func (s *ec2Service) AcceptPeeringConnection(ctx context.Context, peeringID string) (string, error) {
	result, err := s.client.AcceptVpcPeeringConnection(ctx, &ec2.AcceptVpcPeeringConnectionInput{
		VpcPeeringConnectionId: aws.String(peeringID),
	})
	if err != nil {
		if isPeeringNotFound(err) {
			return "", lzerrors.ErrPeeringConnectionNotFound
		}
		return "", fmt.Errorf("failed to accept peering connection %s: %w", peeringID, err)
	}
	return string(result.VpcPeeringConnection.Status.Code), nil
}

func (s *ec2Service) DeletePeeringConnection(ctx context.Context, peeringID string) error {
	_, err := s.client.DeleteVpcPeeringConnection(ctx, &ec2.DeleteVpcPeeringConnectionInput{
		VpcPeeringConnectionId: aws.String(peeringID),
	})
	if err != nil {
		if isPeeringNotFound(err) {
			return lzerrors.ErrPeeringConnectionNotFound
		}
		return fmt.Errorf("failed to delete peering connection %s: %w", peeringID, err)
	}
	return nil
}

func (s *ec2Service) DescribePeeringConnection(ctx context.Context, peeringID string) (*PeeringConnection, error) {
	result, err := s.client.DescribeVpcPeeringConnections(ctx, &ec2.DescribeVpcPeeringConnectionsInput{
		VpcPeeringConnectionIds: []string{peeringID},
	})
	if err != nil {
		if isPeeringNotFound(err) {
			return nil, lzerrors.ErrPeeringConnectionNotFound
		}
		return nil, fmt.Errorf("failed to describe peering connection %s: %w", peeringID, err)
	}
	if len(result.VpcPeeringConnections) == 0 {
		return nil, lzerrors.ErrPeeringConnectionNotFound
	}
	return newPeeringConnection(result.VpcPeeringConnections[0]), nil
}

func isPeeringNotFound(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidVpcPeeringConnectionID.NotFound"
}

func newPeeringConnection(pcx types.VpcPeeringConnection) *PeeringConnection {
	pc := &PeeringConnection{
		Id:     aws.ToString(pcx.VpcPeeringConnectionId),
		Status: string(pcx.Status.Code),
	}
	if pcx.AccepterVpcInfo != nil {
		pc.PeerCidr = aws.ToString(pcx.AccepterVpcInfo.CidrBlock)
		pc.PeerVpcId = aws.ToString(pcx.AccepterVpcInfo.VpcId)
	}
	return pc
}
