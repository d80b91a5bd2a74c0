package rds

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsrds "github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mishramohit437/rdsguard/internal/cluster"
)

type fakeAPI struct {
	status    string
	snapshots []rdstypes.DBClusterSnapshot

	failoverCalls int
	restoreInput  *awsrds.RestoreDBClusterFromSnapshotInput
}

func (f *fakeAPI) DescribeDBClusters(ctx context.Context, in *awsrds.DescribeDBClustersInput, opts ...func(*awsrds.Options)) (*awsrds.DescribeDBClustersOutput, error) {
	return &awsrds.DescribeDBClustersOutput{
		DBClusters: []rdstypes.DBCluster{{Status: aws.String(f.status)}},
	}, nil
}

func (f *fakeAPI) DescribeDBClusterSnapshots(ctx context.Context, in *awsrds.DescribeDBClusterSnapshotsInput, opts ...func(*awsrds.Options)) (*awsrds.DescribeDBClusterSnapshotsOutput, error) {
	return &awsrds.DescribeDBClusterSnapshotsOutput{DBClusterSnapshots: f.snapshots}, nil
}

func (f *fakeAPI) FailoverDBCluster(ctx context.Context, in *awsrds.FailoverDBClusterInput, opts ...func(*awsrds.Options)) (*awsrds.FailoverDBClusterOutput, error) {
	f.failoverCalls++
	return &awsrds.FailoverDBClusterOutput{}, nil
}

func (f *fakeAPI) RestoreDBClusterFromSnapshot(ctx context.Context, in *awsrds.RestoreDBClusterFromSnapshotInput, opts ...func(*awsrds.Options)) (*awsrds.RestoreDBClusterFromSnapshotOutput, error) {
	f.restoreInput = in
	return &awsrds.RestoreDBClusterFromSnapshotOutput{
		DBCluster: &rdstypes.DBCluster{
			Endpoint: aws.String("restored.cluster.example.com"),
			Port:     aws.Int32(5432),
		},
	}, nil
}

func TestDescribeStatusMapping(t *testing.T) {
	tests := []struct {
		rdsStatus string
		want      cluster.HealthStatus
	}{
		{"available", cluster.StatusAvailable},
		{"failing-over", cluster.StatusDegraded},
		{"backing-up", cluster.StatusDegraded},
		{"stopped", cluster.StatusFailed},
		{"something-new", cluster.StatusUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.rdsStatus, func(t *testing.T) {
			cp := NewWithClient(&fakeAPI{status: tt.rdsStatus}, Config{}, nil)
			got, err := cp.DescribeStatus(context.Background(), "c1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestListSnapshotsSortsNewestFirst(t *testing.T) {
	now := time.Now()
	api := &fakeAPI{snapshots: []rdstypes.DBClusterSnapshot{
		{DBClusterSnapshotIdentifier: aws.String("old"), SnapshotCreateTime: aws.Time(now.Add(-2 * time.Hour)), Status: aws.String("available")},
		{DBClusterSnapshotIdentifier: aws.String("new"), SnapshotCreateTime: aws.Time(now), Status: aws.String("available")},
		{DBClusterSnapshotIdentifier: aws.String("creating"), SnapshotCreateTime: aws.Time(now), Status: aws.String("creating")},
	}}

	cp := NewWithClient(api, Config{}, nil)
	snaps, err := cp.ListSnapshots(context.Background(), "c1")
	require.NoError(t, err)

	require.Len(t, snaps, 2, "unavailable snapshots are filtered out")
	assert.Equal(t, "new", snaps[0].ID)
	assert.Equal(t, "old", snaps[1].ID)
}

func TestRestoreFromSnapshot(t *testing.T) {
	api := &fakeAPI{}
	cp := NewWithClient(api, Config{Engine: "aurora-postgresql"}, nil)

	ep, err := cp.RestoreFromSnapshot(context.Background(), cluster.SnapshotRef{ID: "snap-1"})
	require.NoError(t, err)

	assert.Equal(t, cluster.RoleRestoredCandidate, ep.Role)
	assert.Equal(t, "restored.cluster.example.com:5432", ep.Address)
	assert.Equal(t, "snap-1", aws.ToString(api.restoreInput.SnapshotIdentifier))
	assert.Equal(t, "aurora-postgresql", aws.ToString(api.restoreInput.Engine))
}

func TestPromoteStandby(t *testing.T) {
	api := &fakeAPI{status: "available"}
	cp := NewWithClient(api, Config{}, nil)

	require.NoError(t, cp.PromoteStandby(context.Background(), "c1"))
	assert.Equal(t, 1, api.failoverCalls)
}
