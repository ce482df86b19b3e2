package services

import (
	"context"
	"fmt"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/directoryservice"
	"github.com/aws/aws-sdk-go-v2/service/directoryservice/types"
)

// Directory is the adapter-level view of an AD Connector directory.
type Directory struct {
	Id     string
	Name   string
	Status string // Requested, Creating, Active, Deleting, Deleted, Failed
	DnsIps []string
}

// ConnectDirectoryInput carries the parameters of a connect_directory call.
type ConnectDirectoryInput struct {
	Name        string
	NetBiosName string
	Password    string
	Size        string
	VpcId       string
	SubnetIds   []string
	DnsIps      []string
	UserName    string
}

// DirectoryService wraps the AD Connector surface.
type DirectoryService interface {
	// FindDirectory searches by DNS name and IP set.
	FindDirectory(ctx context.Context, dnsName string, dnsIps []string) (*Directory, error)
	ConnectDirectory(ctx context.Context, input ConnectDirectoryInput) (string, error)
	DescribeDirectory(ctx context.Context, directoryID string) (*Directory, error)
	DeleteDirectory(ctx context.Context, directoryID string) error
}

type directoryServiceImpl struct {
	client *directoryservice.Client
}

// NewDirectoryService creates the Directory Service adapter.
func NewDirectoryService(client *directoryservice.Client) DirectoryService {
	return &directoryServiceImpl{client: client}
}

func (s *directoryServiceImpl) FindDirectory(ctx context.Context, dnsName string, dnsIps []string) (*Directory, error) {
	result, err := s.client.DescribeDirectories(ctx, &directoryservice.DescribeDirectoriesInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to describe directories: %w", err)
	}
	for _, d := range result.DirectoryDescriptions {
		if aws.ToString(d.Name) != dnsName {
			continue
		}
		dir := newDirectory(d)
		if sameIPSet(dir.DnsIps, dnsIps) {
			return dir, nil
		}
	}
	return nil, nil
}

func (s *directoryServiceImpl) ConnectDirectory(ctx context.Context, input ConnectDirectoryInput) (string, error) {
	result, err := s.client.ConnectDirectory(ctx, &directoryservice.ConnectDirectoryInput{
		Name:      aws.String(input.Name),
		ShortName: aws.String(input.NetBiosName),
		Password:  aws.String(input.Password),
		Size:      types.DirectorySize(input.Size),
		ConnectSettings: &types.DirectoryConnectSettings{
			VpcId:            aws.String(input.VpcId),
			SubnetIds:        input.SubnetIds,
			CustomerDnsIps:   input.DnsIps,
			CustomerUserName: aws.String(input.UserName),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to connect directory %s: %w", input.Name, err)
	}
	return aws.ToString(result.DirectoryId), nil
}

func (s *directoryServiceImpl) DescribeDirectory(ctx context.Context, directoryID string) (*Directory, error) {
	result, err := s.client.DescribeDirectories(ctx, &directoryservice.DescribeDirectoriesInput{
		DirectoryIds: []string{directoryID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe directory %s: %w", directoryID, err)
	}
	if len(result.DirectoryDescriptions) == 0 {
		return &Directory{Id: directoryID, Status: "Deleted"}, nil
	}
	return newDirectory(result.DirectoryDescriptions[0]), nil
}

func (s *directoryServiceImpl) DeleteDirectory(ctx context.Context, directoryID string) error {
	_, err := s.client.DeleteDirectory(ctx, &directoryservice.DeleteDirectoryInput{
		DirectoryId: aws.String(directoryID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete directory %s: %w", directoryID, err)
	}
	return nil
}

func newDirectory(d types.DirectoryDescription) *Directory {
	dir := &Directory{
		Id:     aws.ToString(d.DirectoryId),
		Name:   aws.ToString(d.Name),
		Status: string(d.Stage),
	}
	if d.ConnectSettings != nil {
		dir.DnsIps = d.ConnectSettings.ConnectIps
	}
	return dir
}

func sameIPSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := slices.Clone(a)
	bs := slices.Clone(b)
	slices.Sort(as)
	slices.Sort(bs)
	return slices.Equal(as, bs)
}
