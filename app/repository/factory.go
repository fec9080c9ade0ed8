package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Factory builds the repositories once and hands out the same instances
type Factory struct {
	db       *gorm.DB
	notifier ConfigChangeNotifier
	repos    *Repositories
	once     sync.Once
}

// NewFactory creates a new repository factory. notifier may be nil.
func NewFactory(db *gorm.DB, notifier ConfigChangeNotifier) *Factory {
	return &Factory{
		db:       db,
		notifier: notifier,
	}
}

// NewRepositories creates all repository instances
func NewRepositories(db *gorm.DB, notifier ConfigChangeNotifier) *Repositories {
	return &Repositories{
		Company: NewCompanyRepository(db, notifier),
		Member:  NewMemberRepository(db),
		Setting: NewSettingRepository(db, notifier),
	}
}

// GetRepositories returns the repositories of this factory
func (f *Factory) GetRepositories() *Repositories {
	f.once.Do(func() {
		f.repos = NewRepositories(f.db, f.notifier)
	})
	return f.repos
}

// GetCompanyRepository returns the company repository instance
func (f *Factory) GetCompanyRepository() CompanyRepository {
	return f.GetRepositories().Company
}

// GetMemberRepository returns the member repository instance
func (f *Factory) GetMemberRepository() MemberRepository {
	return f.GetRepositories().Member
}

// GetSettingRepository returns the setting repository instance
func (f *Factory) GetSettingRepository() SettingRepository {
	return f.GetRepositories().Setting
}
