package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fundline/outreach/internal/config"
)

// Storage persists report snapshots. The backend is chosen by config:
// local disk for development, S3 or DynamoDB for deployments.
type Storage struct {
	cfg config.ReportConfig
	aws *awsStore
}

// NewStorage creates report storage for the configured backend.
func NewStorage(ctx context.Context, cfg config.ReportConfig) (*Storage, error) {
	s := &Storage{cfg: cfg}

	switch cfg.StorageType {
	case "local", "":
		if err := os.MkdirAll(cfg.LocalPath, 0755); err != nil {
			return nil, fmt.Errorf("creating report directory: %w", err)
		}
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("report storage type s3 requires s3_bucket")
		}
		aws, err := newAWSStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.aws = aws
	case "dynamodb":
		if cfg.DynamoDBTable == "" {
			return nil, fmt.Errorf("report storage type dynamodb requires dynamodb_table")
		}
		aws, err := newAWSStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.aws = aws
	default:
		return nil, fmt.Errorf("unknown report storage type %q", cfg.StorageType)
	}

	return s, nil
}

// Save persists a snapshot. Each save also refreshes the campaign's
// "latest" pointer so readers do not have to list timestamps.
func (s *Storage) Save(ctx context.Context, rep *CampaignReport) error {
	switch s.cfg.StorageType {
	case "s3":
		key := s3Key(rep.CampaignID, rep.GeneratedAt)
		if err := s.aws.putS3(ctx, key, rep); err != nil {
			return err
		}
		return s.aws.putS3(ctx, s3LatestKey(rep.CampaignID), rep)
	case "dynamodb":
		return s.aws.putDynamo(ctx, rep)
	default:
		if err := s.saveLocal(rep, rep.GeneratedAt.UTC().Format("2006-01-02T15-04-05")); err != nil {
			return err
		}
		return s.saveLocal(rep, "latest")
	}
}

// Latest returns the most recent snapshot for a campaign, or an error
// when none has been saved yet.
func (s *Storage) Latest(ctx context.Context, campaignID string) (*CampaignReport, error) {
	switch s.cfg.StorageType {
	case "s3":
		var rep CampaignReport
		if err := s.aws.getS3(ctx, s3LatestKey(campaignID), &rep); err != nil {
			return nil, err
		}
		return &rep, nil
	case "dynamodb":
		return s.aws.latestDynamo(ctx, campaignID)
	default:
		return s.loadLocal(campaignID, "latest")
	}
}

// Ping verifies the backend is reachable. Readiness checks call this;
// a failure means saved snapshots would be lost, not that generation
// is broken.
func (s *Storage) Ping(ctx context.Context) error {
	switch s.cfg.StorageType {
	case "s3":
		return s.aws.headBucket(ctx)
	case "dynamodb":
		return s.aws.describeTable(ctx)
	default:
		_, err := os.Stat(s.cfg.LocalPath)
		return err
	}
}

// Backend returns the configured storage type for health reporting.
func (s *Storage) Backend() string {
	if s.cfg.StorageType == "" {
		return "local"
	}
	return s.cfg.StorageType
}

func (s *Storage) saveLocal(rep *CampaignReport, name string) error {
	dir := filepath.Join(s.cfg.LocalPath, filepath.Base(rep.CampaignID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	file, err := os.Create(filepath.Join(dir, name+".json"))
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rep)
}

func (s *Storage) loadLocal(campaignID, name string) (*CampaignReport, error) {
	path := filepath.Join(s.cfg.LocalPath, filepath.Base(campaignID), name+".json")

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("no report for campaign %s: %w", campaignID, err)
	}
	defer file.Close()

	var rep CampaignReport
	if err := json.NewDecoder(file).Decode(&rep); err != nil {
		return nil, fmt.Errorf("decoding report: %w", err)
	}
	return &rep, nil
}

func s3Key(campaignID string, at time.Time) string {
	return fmt.Sprintf("reports/%s/%s/%s.json",
		campaignID,
		at.UTC().Format("2006/01/02"),
		at.UTC().Format("15-04-05"))
}

func s3LatestKey(campaignID string) string {
	return fmt.Sprintf("reports/%s/latest.json", campaignID)
}
