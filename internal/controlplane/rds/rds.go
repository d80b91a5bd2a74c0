// Package rds adapts the AWS RDS API to the control-plane contract.
package rds

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"go.uber.org/zap"

	"github.com/mishramohit437/rdsguard/internal/cluster"
)

// Config configures the adapter.
type Config struct {
	Region string `yaml:"region"`

	// Engine names the engine for restored clusters, for example
	// "aurora-postgresql".
	Engine string `yaml:"engine"`
}

// API is the subset of the RDS client the adapter uses.
type API interface {
	DescribeDBClusters(ctx context.Context, in *rds.DescribeDBClustersInput, opts ...func(*rds.Options)) (*rds.DescribeDBClustersOutput, error)
	DescribeDBClusterSnapshots(ctx context.Context, in *rds.DescribeDBClusterSnapshotsInput, opts ...func(*rds.Options)) (*rds.DescribeDBClusterSnapshotsOutput, error)
	FailoverDBCluster(ctx context.Context, in *rds.FailoverDBClusterInput, opts ...func(*rds.Options)) (*rds.FailoverDBClusterOutput, error)
	RestoreDBClusterFromSnapshot(ctx context.Context, in *rds.RestoreDBClusterFromSnapshotInput, opts ...func(*rds.Options)) (*rds.RestoreDBClusterFromSnapshotOutput, error)
}

// ControlPlane drives a managed RDS/Aurora cluster.
type ControlPlane struct {
	client API
	cfg    Config
	logger *zap.Logger
}

// New builds the adapter from the ambient AWS credential chain.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*ControlPlane, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("rds: load aws config: %w", err)
	}
	return NewWithClient(rds.NewFromConfig(awsCfg), cfg, logger), nil
}

// NewWithClient builds the adapter around an existing client.
func NewWithClient(client API, cfg Config, logger *zap.Logger) *ControlPlane {
	if cfg.Engine == "" {
		cfg.Engine = "aurora-postgresql"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ControlPlane{client: client, cfg: cfg, logger: logger}
}

func (c *ControlPlane) DescribeStatus(ctx context.Context, clusterID string) (cluster.HealthStatus, error) {
	out, err := c.client.DescribeDBClusters(ctx, &rds.DescribeDBClustersInput{
		DBClusterIdentifier: aws.String(clusterID),
	})
	if err != nil {
		var notFound *rdstypes.DBClusterNotFoundFault
		if errors.As(err, &notFound) {
			return cluster.StatusUnreachable, nil
		}
		return cluster.StatusUnreachable, fmt.Errorf("rds: describe %s: %w", clusterID, err)
	}
	if len(out.DBClusters) == 0 {
		return cluster.StatusUnreachable, nil
	}
	return mapStatus(aws.ToString(out.DBClusters[0].Status)), nil
}

func (c *ControlPlane) ListSnapshots(ctx context.Context, clusterID string) ([]cluster.SnapshotRef, error) {
	out, err := c.client.DescribeDBClusterSnapshots(ctx, &rds.DescribeDBClusterSnapshotsInput{
		DBClusterIdentifier: aws.String(clusterID),
	})
	if err != nil {
		return nil, fmt.Errorf("rds: list snapshots %s: %w", clusterID, err)
	}

	snaps := make([]cluster.SnapshotRef, 0, len(out.DBClusterSnapshots))
	for _, s := range out.DBClusterSnapshots {
		if aws.ToString(s.Status) != "available" {
			continue
		}
		snaps = append(snaps, cluster.SnapshotRef{
			ID:        aws.ToString(s.DBClusterSnapshotIdentifier),
			CreatedAt: aws.ToTime(s.SnapshotCreateTime),
		})
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})
	return snaps, nil
}

func (c *ControlPlane) PromoteStandby(ctx context.Context, clusterID string) error {
	_, err := c.client.FailoverDBCluster(ctx, &rds.FailoverDBClusterInput{
		DBClusterIdentifier: aws.String(clusterID),
	})
	if err != nil {
		return fmt.Errorf("rds: failover %s: %w", clusterID, err)
	}
	c.logger.Info("cluster failover requested", zap.String("cluster", clusterID))
	return nil
}

func (c *ControlPlane) RestoreFromSnapshot(ctx context.Context, snapshot cluster.SnapshotRef) (cluster.Endpoint, error) {
	restoredID := fmt.Sprintf("%s-restored-%d", snapshot.ID, time.Now().Unix())

	out, err := c.client.RestoreDBClusterFromSnapshot(ctx, &rds.RestoreDBClusterFromSnapshotInput{
		DBClusterIdentifier: aws.String(restoredID),
		SnapshotIdentifier:  aws.String(snapshot.ID),
		Engine:              aws.String(c.cfg.Engine),
	})
	if err != nil {
		return cluster.Endpoint{}, fmt.Errorf("rds: restore from %s: %w", snapshot.ID, err)
	}

	address := aws.ToString(out.DBCluster.Endpoint)
	if port := aws.ToInt32(out.DBCluster.Port); port != 0 {
		address = fmt.Sprintf("%s:%d", address, port)
	}

	c.logger.Info("restore requested",
		zap.String("snapshot", snapshot.ID),
		zap.String("cluster", restoredID))

	return cluster.Endpoint{
		ID:      restoredID,
		Address: address,
		Role:    cluster.RoleRestoredCandidate,
	}, nil
}

// mapStatus classifies an RDS cluster status string.
func mapStatus(status string) cluster.HealthStatus {
	switch status {
	case "available":
		return cluster.StatusAvailable
	case "backing-up", "backtracking", "failing-over", "maintenance",
		"modifying", "renaming", "resetting-master-credentials", "upgrading":
		return cluster.StatusDegraded
	case "creating", "deleting", "migrating", "restoring", "starting", "stopping":
		return cluster.StatusDegraded
	case "stopped", "inaccessible-encryption-credentials", "migration-failed":
		return cluster.StatusFailed
	default:
		return cluster.StatusUnreachable
	}
}
