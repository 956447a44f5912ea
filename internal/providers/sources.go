package providers

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/NewMai/QABot/internal/backend"
	"github.com/NewMai/QABot/internal/lotusrpc"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconf "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/benbjohnson/clock"
	filaddr "github.com/filecoin-project/go-address"
	filbig "github.com/filecoin-project/go-state-types/big"
	"github.com/ribasushi/go-toolbox-interplanetary/fil"
	"github.com/ribasushi/go-toolbox/cmn"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// Listing is a single {id, power} tuple as published by a listing source
type Listing struct {
	ID    string      `json:"id"`
	Power json.Number `json:"power"`
}

// Provider converts a listing entry, reporting false for entries that lack
// an id or a positive power
func (l Listing) Provider() (Provider, bool) {
	if l.ID == "" || l.Power == "" {
		return Provider{}, false
	}
	aid, err := fil.ParseActorString(l.ID)
	if err != nil {
		log.Warnw("skipping unparseable provider id", "id", l.ID, "error", err)
		return Provider{}, false
	}
	pow, err := filbig.FromString(string(l.Power))
	if err != nil || pow.Sign() <= 0 {
		return Provider{}, false
	}
	return Provider{Address: aid.AsFilAddr(), Capacity: powerToInt64(pow)}, true
}

func powerToInt64(p filbig.Int) int64 {
	if !p.IsInt64() {
		return math.MaxInt64
	}
	return p.Int64()
}

// MinersLister serves one page of the backend's provider listing
type MinersLister interface {
	GetMiners(ctx context.Context, skip int) (*backend.MinersPage, error)
}

// BackendSource pages through the backend listing until the advertised count
// is reached. A failing page ends the listing with whatever was collected.
type BackendSource struct {
	Lister MinersLister
}

func (s *BackendSource) ListProviders(ctx context.Context) ([]Provider, error) {
	out := make([]Provider, 0, 1024)
	var skip, count int
	for ctx.Err() == nil {
		page, err := s.Lister.GetMiners(ctx, skip)
		if err != nil {
			log.Errorw("failed to list providers from backend", "collected", len(out), "error", err)
			break
		}
		for _, l := range page.Items {
			li := Listing{ID: l.ID, Power: l.Power}
			if p, ok := li.Provider(); ok {
				out = append(out, p)
			}
		}
		// the cursor advances by what the backend served, filtered or not
		skip += len(page.Items)
		count = page.Count
		if skip >= count || len(page.Items) == 0 {
			break
		}
	}
	log.Infow("listed providers from backend", "count", len(out), "advertised", count)
	return out, nil
}

const powerBatchSize = 50

// LotusSource enumerates every miner actor on chain and keeps those with a
// positive quality-adjusted power
type LotusSource struct {
	Node lotusrpc.Node
}

func (s *LotusSource) ListProviders(ctx context.Context) ([]Provider, error) {
	miners, err := s.Node.ListMiners(ctx)
	if err != nil {
		return nil, xerrors.Errorf("listing miners: %w", err)
	}

	out := make([]Provider, 0, 4096)
	var mu sync.Mutex
	for start := 0; start < len(miners); start += powerBatchSize {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		end := start + powerBatchSize
		if end > len(miners) {
			end = len(miners)
		}

		eg, egCtx := errgroup.WithContext(ctx)
		for _, m := range miners[start:end] {
			m := m
			eg.Go(func() error {
				pow, err := s.Node.MinerPower(egCtx, m)
				if err != nil {
					log.Debugw("miner power lookup failed", "provider", m, "error", err)
					return nil
				}
				if pow == nil || pow.MinerPower.QualityAdjPower.Int == nil || pow.MinerPower.QualityAdjPower.Sign() <= 0 {
					return nil
				}
				mu.Lock()
				out = append(out, Provider{Address: m, Capacity: powerToInt64(pow.MinerPower.QualityAdjPower)})
				mu.Unlock()
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return out, err
		}
	}

	log.Infow("listed providers from chain", "miners", len(miners), "withPower", len(out))
	return out, nil
}

type s3API interface {
	ListObjectsV2(context.Context, *awss3.ListObjectsV2Input, ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error)
	GetObject(context.Context, *awss3.GetObjectInput, ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
}

// S3Source reads every JSON object under bucket/prefix, each holding an
// array of {id, power} entries, and concatenates them
type S3Source struct {
	api    s3API
	bucket string
	prefix string
}

// NewS3Source takes a "bucket/prefix" location, credentials come from the
// named shared-config profile
func NewS3Source(ctx context.Context, location, profile, region string) (*S3Source, error) {
	bucket, prefix, _ := strings.Cut(strings.TrimPrefix(location, "s3://"), "/")
	if bucket == "" {
		return nil, xerrors.Errorf("invalid s3 provider list location '%s'", location)
	}

	opts := make([]func(*awsconf.LoadOptions) error, 0, 2)
	if profile != "" {
		opts = append(opts, awsconf.WithSharedConfigProfile(profile))
	}
	if region != "" {
		opts = append(opts, awsconf.WithRegion(region))
	}
	cfg, err := awsconf.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, cmn.WrErr(err)
	}

	return &S3Source{
		api:    awss3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
	}, nil
}

func (s *S3Source) ListProviders(ctx context.Context) ([]Provider, error) {
	out := make([]Provider, 0, 1024)
	var objCount int

	var nextPage *string
	for {
		ls, err := s.api.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.prefix),
			ContinuationToken: nextPage,
		})
		if err != nil {
			return nil, cmn.WrErr(err)
		}

		for _, e := range ls.Contents {
			entries, err := s.readObject(ctx, e.Key)
			if err != nil {
				return nil, err
			}
			objCount++
			for _, l := range entries {
				if p, ok := l.Provider(); ok {
					out = append(out, p)
				}
			}
		}

		nextPage = ls.NextContinuationToken
		if nextPage == nil {
			break
		}
	}

	log.Infow("listed providers from s3", "bucket", s.bucket, "objects", objCount, "count", len(out))
	return out, nil
}

func (s *S3Source) readObject(ctx context.Context, key *string) ([]Listing, error) {
	res, err := s.api.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    key,
	})
	if err != nil {
		return nil, cmn.WrErr(err)
	}
	defer res.Body.Close() //nolint:errcheck

	var entries []Listing
	if err := json.NewDecoder(res.Body).Decode(&entries); err != nil {
		return nil, xerrors.Errorf("decoding s3 object %s: %w", aws.ToString(key), err)
	}
	return entries, nil
}

// CachedSource only re-lists once the previous successful listing is older
// than MaxAge. Chain enumeration is slow enough to warrant it.
type CachedSource struct {
	Source Source
	MaxAge time.Duration
	Clock  clock.Clock

	last     []Provider
	lastAt   time.Time
	haveLast bool
}

func (s *CachedSource) ListProviders(ctx context.Context) ([]Provider, error) {
	clk := s.Clock
	if clk == nil {
		clk = clock.New()
	}
	if s.haveLast && clk.Since(s.lastAt) < s.MaxAge {
		return s.last, nil
	}

	list, err := s.Source.ListProviders(ctx)
	if err != nil {
		return nil, err
	}
	if len(list) > 0 {
		s.last, s.lastAt, s.haveLast = list, clk.Now(), true
	}
	return list, nil
}

// Addresses is a convenience for logging and tests
func Addresses(list []Provider) []filaddr.Address {
	out := make([]filaddr.Address, len(list))
	for i := range list {
		out[i] = list[i].Address
	}
	return out
}
