// Package pg connects the billing service to PostgreSQL through pgxpool,
// registers the shopspring decimal codec for NUMERIC money columns and applies
// goose migrations.
//
//	var cfg pg.Config
//	config.MustLoad(&cfg)
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	if err := pg.Migrate(ctx, pool, cfg, log); err != nil {
//		return err
//	}
//
// IsNotFoundError and IsDuplicateKeyError classify driver errors so stores
// can map them to domain sentinels.
package pg
